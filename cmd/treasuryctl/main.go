package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jmerrifield20/LoanTreasury/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile    string
	serverURL  string
	callerFlag string
	principal  string
	secret     string
	tokenFlag  string
	outputJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Code != 0 {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "treasuryctl",
	Short: "Loan treasury CLI",
	Long: `treasuryctl drives a loan treasury server: funding, governance
configuration, loan disbursement and impact reporting.

Credentials come from flags, ~/.treasury/config.yaml or the environment
(TREASURY_URL, TREASURY_PRINCIPAL, TREASURY_SECRET, TREASURY_TOKEN,
TREASURY_CALLER).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".treasury"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("treasury")
		viper.AutomaticEnv()
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && cfgFile != "" {
				return fmt.Errorf("read config: %w", err)
			}
		}

		fillFromConfig(&serverURL, "url")
		fillFromConfig(&callerFlag, "caller")
		fillFromConfig(&principal, "principal")
		fillFromConfig(&secret, "secret")
		fillFromConfig(&tokenFlag, "token")
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.treasury/config.yaml)")
	pf.StringVar(&serverURL, "server", "", "treasury server URL (default http://localhost:8080)")
	pf.StringVar(&callerFlag, "caller", "", "principal sent as X-Treasury-Caller (servers without token auth)")
	pf.StringVar(&principal, "principal", "", "principal to obtain a caller token for")
	pf.StringVar(&secret, "secret", "", "secret for --principal")
	pf.StringVar(&tokenFlag, "token", "", "pre-issued caller token")
	pf.BoolVar(&outputJSON, "json", false, "print results as JSON")

	rootCmd.AddCommand(
		overviewCmd, loanCmd, transfersCmd,
		registerCmd, setMinCmd, setMaxCmd, pauseCmd, resumeCmd,
		fundCmd, withdrawCmd, disburseCmd, impactCmd, approveCmd,
		clockCmd, journalCmd, tokenCmd, hashSecretCmd, versionCmd,
	)
}

// fillFromConfig sets *dst from viper when the flag was left empty.
func fillFromConfig(dst *string, key string) {
	if *dst == "" {
		*dst = viper.GetString(key)
	}
}

// newClient builds a client from the resolved connection settings.
func newClient() (*client.Client, error) {
	var opts []client.Option
	switch {
	case tokenFlag != "":
		opts = append(opts, client.WithBearerToken(tokenFlag))
	case principal != "" && secret != "":
		opts = append(opts, client.WithCredentials(principal, secret))
	}
	if callerFlag != "" {
		opts = append(opts, client.WithCaller(callerFlag))
	}
	return client.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUint(arg, name string) (uint64, error) {
	v, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, arg)
	}
	return v, nil
}
