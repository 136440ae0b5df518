package ledger

// TransferKind classifies a value release from a poll's escrow.
type TransferKind string

const (
	TransferFee    TransferKind = "fee"
	TransferPayout TransferKind = "payout"
	TransferRefund TransferKind = "refund"
)

// Transfer is a pending credit of Amount to Recipient, released from a poll's
// escrow. The settlement layer consumes transfers after each command.
type Transfer struct {
	Seq       int64        `json:"seq"` // Logical clock
	CommandID string       `json:"command_id"`
	PollID    PollID       `json:"poll_id"`
	Recipient Participant  `json:"recipient"`
	Amount    Amount       `json:"amount"`
	Kind      TransferKind `json:"kind"`
	Settled   bool         `json:"settled"`
}

// SumTransfers returns the total value of ts.
func SumTransfers(ts []Transfer) Amount {
	var total Amount
	for _, t := range ts {
		total += t.Amount
	}
	return total
}
