package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jmerrifield20/LoanTreasury/internal/identity"
	"github.com/jmerrifield20/LoanTreasury/pkg/client"
	"github.com/spf13/cobra"
)

// ── queries ──────────────────────────────────────────────────────────────────

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Show balance, limits, registered contracts and counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ov, err := c.Overview(cmd.Context())
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(ov)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Treasury:\t%s\n", ov.Self)
		fmt.Fprintf(w, "Balance:\t%d\n", ov.TreasuryBalance)
		fmt.Fprintf(w, "Paused:\t%t\n", ov.DisbursementPaused)
		fmt.Fprintf(w, "Amount bounds:\t[%d, %d]\n", ov.MinDisbursementAmount, ov.MaxDisbursementAmount)
		fmt.Fprintf(w, "Governance:\t%s\n", orUnset(ov.GovernanceContract))
		fmt.Fprintf(w, "Impact tracker:\t%s\n", orUnset(ov.ImpactTrackerContract))
		fmt.Fprintf(w, "Threshold aggregator:\t%s\n", orUnset(ov.ThresholdAggregatorContract))
		fmt.Fprintf(w, "Repayment tracker:\t%s\n", orUnset(ov.RepaymentTrackerContract))
		fmt.Fprintf(w, "Disbursed:\t%d in %d loan(s)\n", ov.TotalDisbursed, ov.DisbursementCount)
		fmt.Fprintf(w, "Last disbursement:\t%d\n", ov.LastDisbursementTime)
		fmt.Fprintf(w, "Height:\t%d\n", ov.Height)
		return w.Flush()
	},
}

var loanCmd = &cobra.Command{
	Use:   "loan <request-id>",
	Short: "Show a disbursed loan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseUint(args[0], "request id")
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		loan, err := c.Loan(cmd.Context(), id)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(loan)
		}
		fmt.Printf("Borrower:           %s\n", loan.Borrower)
		fmt.Printf("Amount:             %d\n", loan.Amount)
		fmt.Printf("Disbursed at:       %d\n", loan.DisbursementTime)
		fmt.Printf("Token contract:     %s\n", orNative(loan.TokenContract))
		fmt.Printf("Repayment schedule: %d\n", loan.RepaymentSchedule)
		fmt.Printf("Impact recorded:    %t\n", loan.ImpactRecorded)
		return nil
	},
}

var (
	transfersLimit  int
	transfersOffset int
)

var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "List recorded value movements, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		transfers, err := c.Transfers(cmd.Context(), transfersLimit, transfersOffset)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(transfers)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tAMOUNT\tFROM\tTO\tTOKEN\tREQUEST\tHEIGHT")
		for _, t := range transfers {
			req := "-"
			if t.RequestID != 0 {
				req = fmt.Sprint(t.RequestID)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%d\n",
				t.Kind, t.Transfer.Amount, t.Transfer.From, t.Transfer.To,
				orNative(t.Transfer.Token), req, t.Height)
		}
		return w.Flush()
	},
}

func init() {
	transfersCmd.Flags().IntVar(&transfersLimit, "limit", 20, "maximum rows to return")
	transfersCmd.Flags().IntVar(&transfersOffset, "offset", 0, "rows to skip")
}

// ── governance ───────────────────────────────────────────────────────────────

var registerCmd = &cobra.Command{
	Use:   "register <governance|impact-tracker|threshold-aggregator|repayment-tracker> <principal>",
	Short: "Register the principal holding a role (the caller must be that principal)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RegisterContract(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s registered: %s\n", args[0], args[1])
		return nil
	},
}

var setMinCmd = &cobra.Command{
	Use:   "set-min <amount>",
	Short: "Set the minimum disbursement amount",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return amountCall(cmd.Context(), args[0], "minimum disbursement amount", func(ctx context.Context, c *client.Client, v uint64) error {
			return c.SetMinAmount(ctx, v)
		})
	},
}

var setMaxCmd = &cobra.Command{
	Use:   "set-max <amount>",
	Short: "Set the maximum disbursement amount",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return amountCall(cmd.Context(), args[0], "maximum disbursement amount", func(ctx context.Context, c *client.Client, v uint64) error {
			return c.SetMaxAmount(ctx, v)
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause new disbursements (governance only)",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return setPaused(cmd.Context(), true) },
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume disbursements (governance only)",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return setPaused(cmd.Context(), false) },
}

func setPaused(ctx context.Context, paused bool) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.Pause(ctx, paused); err != nil {
		return err
	}
	if paused {
		fmt.Println("disbursements paused")
	} else {
		fmt.Println("disbursements resumed")
	}
	return nil
}

var fundCmd = &cobra.Command{
	Use:   "fund <amount>",
	Short: "Move funds from the caller into the treasury",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseUint(args[0], "amount")
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		balance, err := c.Fund(cmd.Context(), amount)
		if err != nil {
			return err
		}
		fmt.Printf("funded %d, balance now %d\n", amount, balance)
		return nil
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <amount> <recipient>",
	Short: "Withdraw treasury funds to a recipient (governance only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseUint(args[0], "amount")
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Withdraw(cmd.Context(), amount, args[1]); err != nil {
			return err
		}
		fmt.Printf("withdrew %d to %s\n", amount, args[1])
		return nil
	},
}

// ── loans ────────────────────────────────────────────────────────────────────

var disburseReq client.DisburseRequest

var disburseCmd = &cobra.Command{
	Use:   "disburse",
	Short: "Disburse an approved loan to its borrower",
	Long: `Disburse validates the request against the ledger rules and, if every
check passes, pays the borrower and records the loan.

  treasuryctl disburse --borrower ST1... --amount 500 --request-id 1 \
      --schedule 30 --impact "Impact data"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		req := disburseReq
		req.Currency = strings.ToUpper(req.Currency)
		loan, err := c.Disburse(cmd.Context(), req)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(loan)
		}
		fmt.Printf("disbursed loan %d: %d to %s at height %d\n",
			req.RequestID, loan.Amount, loan.Borrower, loan.DisbursementTime)
		return nil
	},
}

func init() {
	f := disburseCmd.Flags()
	f.StringVar(&disburseReq.Borrower, "borrower", "", "borrower principal (required)")
	f.Uint64Var(&disburseReq.Amount, "amount", 0, "loan amount (required)")
	f.Uint64Var(&disburseReq.RequestID, "request-id", 0, "approved loan request id (required)")
	f.StringVar(&disburseReq.TokenContract, "token", "", "fungible token contract; empty pays in the native currency")
	f.Uint64Var(&disburseReq.RepaymentSchedule, "schedule", 0, "repayment schedule")
	f.StringVar(&disburseReq.ImpactData, "impact", "", "impact statement")
	f.StringVar(&disburseReq.Currency, "currency", client.CurrencySTX, "STX or SIP010")
	_ = disburseCmd.MarkFlagRequired("borrower")
	_ = disburseCmd.MarkFlagRequired("amount")
	_ = disburseCmd.MarkFlagRequired("request-id")
}

var impactCmd = &cobra.Command{
	Use:   "impact <request-id> <report>",
	Short: "Record the impact report for a loan (borrower only, once)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseUint(args[0], "request id")
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.RecordImpact(cmd.Context(), id, args[1]); err != nil {
			return err
		}
		fmt.Printf("impact recorded for loan %d\n", id)
		return nil
	},
}

var revokeApproval bool

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Record a threshold approval (static approvals, aggregator only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseUint(args[0], "request id")
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.SetApproval(cmd.Context(), id, !revokeApproval); err != nil {
			return err
		}
		fmt.Printf("request %d approved=%t\n", id, !revokeApproval)
		return nil
	},
}

func init() {
	approveCmd.Flags().BoolVar(&revokeApproval, "revoke", false, "clear the approval instead")
}

// ── clock ────────────────────────────────────────────────────────────────────

var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Show the server's logical height",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		h, err := c.Height(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(h)
		return nil
	},
}

var clockAdvanceCmd = &cobra.Command{
	Use:   "advance [blocks]",
	Short: "Advance a manual clock (default 1 block)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blocks := uint64(1)
		if len(args) == 1 {
			var err error
			if blocks, err = parseUint(args[0], "block count"); err != nil {
				return err
			}
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		h, err := c.AdvanceClock(cmd.Context(), blocks)
		if err != nil {
			return err
		}
		fmt.Printf("height now %d\n", h)
		return nil
	},
}

func init() {
	clockCmd.AddCommand(clockAdvanceCmd)
}

// ── journal ──────────────────────────────────────────────────────────────────

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the audit journal",
}

var journalVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the journal hash chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.VerifyJournal(cmd.Context())
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(v)
		}
		if !v.Valid {
			return fmt.Errorf("journal chain broken: %s", v.Error)
		}
		fmt.Println("journal chain valid")
		return nil
	},
}

var journalEntryCmd = &cobra.Command{
	Use:   "entry <index>",
	Short: "Show one journal entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := parseUint(args[0], "index")
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		e, err := c.JournalEntry(cmd.Context(), int(idx))
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(e)
		}
		fmt.Printf("#%d %s by %s (request %d, height %d)\n", e.Index, e.Action, orUnset(e.Actor), e.RequestID, e.Height)
		fmt.Printf("  at   %s\n", e.Timestamp.Format("2006-01-02 15:04:05Z07:00"))
		fmt.Printf("  prev %s\n", e.PrevHash)
		fmt.Printf("  hash %s\n", e.Hash)
		return nil
	},
}

func init() {
	journalCmd.AddCommand(journalVerifyCmd, journalEntryCmd)
}

// ── credentials ──────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange --principal/--secret for a caller token and print it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if principal == "" || secret == "" {
			return fmt.Errorf("--principal and --secret are required")
		}
		c, err := client.New(serverURL, client.WithCredentials(principal, secret))
		if err != nil {
			return err
		}
		token, err := c.FetchToken(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret [secret]",
	Short: "Print the bcrypt hash of a secret for auth.principals in treasury.yaml",
	Long: `hash-secret reads the secret from the argument or, if omitted, from the
first line of stdin, and prints its bcrypt hash.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plain := ""
		if len(args) == 1 {
			plain = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read secret from stdin: %w", err)
			}
			plain = strings.TrimRight(line, "\r\n")
		}
		hash, err := identity.HashSecret(plain)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the treasuryctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("treasuryctl %s\n", version)
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

func amountCall(ctx context.Context, arg, what string, fn func(context.Context, *client.Client, uint64) error) error {
	v, err := parseUint(arg, "amount")
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := fn(ctx, c, v); err != nil {
		return err
	}
	fmt.Printf("%s set to %d\n", what, v)
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}

func orNative(s string) string {
	if s == "" {
		return "native"
	}
	return s
}
