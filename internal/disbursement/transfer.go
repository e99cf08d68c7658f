package disbursement

// Transfer is a value movement the ledger asks its sink to perform.
type Transfer struct {
	Amount uint64    `json:"amount"`
	From   Principal `json:"from"`
	To     Principal `json:"to"`
	Token  Principal `json:"token,omitempty"` // empty = native currency
}

// Native reports whether t moves the native currency.
func (t Transfer) Native() bool { return !t.Token.IsSet() }

// TransferSink receives the transfers produced by successful operations.
// Delivery is assumed to succeed once the sink is reached.
type TransferSink interface {
	Transfer(t Transfer)
}

// TransferSinkFunc adapts a function to TransferSink.
type TransferSinkFunc func(Transfer)

// Transfer implements TransferSink.
func (f TransferSinkFunc) Transfer(t Transfer) { f(t) }

// Transfers is a TransferSink that records everything it receives, in order.
type Transfers []Transfer

// Transfer implements TransferSink.
func (ts *Transfers) Transfer(t Transfer) { *ts = append(*ts, t) }

func emit(sink TransferSink, t Transfer) {
	if sink != nil {
		sink.Transfer(t)
	}
}
