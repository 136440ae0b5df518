package engine

import (
	"context"
	"fmt"

	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/store"
)

// PollAudit is the conservation check of one poll.
type PollAudit struct {
	PollID     ledger.PollID `json:"poll_id"`
	Status     ledger.Status `json:"status"`
	RewardPool ledger.Amount `json:"reward_pool"`
	Released   ledger.Amount `json:"released"`
	Fee        ledger.Amount `json:"fee"`
	PaidOut    ledger.Amount `json:"paid_out"`
	Refunded   ledger.Amount `json:"refunded"`
	OK         bool          `json:"ok"`
	Problem    string        `json:"problem,omitempty"`
}

// AuditReport summarizes Audit.
type AuditReport struct {
	Polls    []PollAudit   `json:"polls"`
	Escrowed ledger.Amount `json:"escrowed"` // still held for Active polls
	Failures int           `json:"failures"`
}

// Audit recomputes, from the transfer log, what every poll has released:
// terminal polls must have released exactly their pool, Active polls nothing.
func (e *Engine) Audit(ctx context.Context) (AuditReport, error) {
	report := AuditReport{Polls: []PollAudit{}}
	err := e.view(ctx, func(tx *store.Tx) error {
		polls, err := tx.ListPolls(ctx)
		if err != nil {
			return err
		}
		transfers, err := tx.Transfers(ctx, store.TransferFilter{})
		if err != nil {
			return err
		}
		byPoll := make(map[ledger.PollID][]ledger.Transfer)
		for _, tr := range transfers {
			byPoll[tr.PollID] = append(byPoll[tr.PollID], tr)
		}

		for _, p := range polls {
			a := auditPoll(p, byPoll[p.ID])
			if !a.OK {
				report.Failures++
			}
			if p.Status == ledger.StatusActive {
				report.Escrowed += p.RewardPool
			}
			report.Polls = append(report.Polls, a)
		}
		return nil
	})
	if err != nil {
		return AuditReport{}, err
	}
	if report.Failures > 0 {
		e.logger.Warn("audit found conservation failures", "failures", report.Failures)
	}
	return report, nil
}

func auditPoll(p ledger.Poll, transfers []ledger.Transfer) PollAudit {
	a := PollAudit{PollID: p.ID, Status: p.Status, RewardPool: p.RewardPool}
	for _, tr := range transfers {
		a.Released += tr.Amount
		switch tr.Kind {
		case ledger.TransferFee:
			a.Fee += tr.Amount
		case ledger.TransferPayout:
			a.PaidOut += tr.Amount
		case ledger.TransferRefund:
			a.Refunded += tr.Amount
		}
	}

	switch {
	case p.Status.Terminal() && a.Released != p.RewardPool:
		a.Problem = fmt.Sprintf("released %d of pool %d", a.Released, p.RewardPool)
	case !p.Status.Terminal() && a.Released != 0:
		a.Problem = fmt.Sprintf("active poll released %d", a.Released)
	default:
		a.OK = true
	}
	return a
}
