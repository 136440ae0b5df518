package reward

import (
	"fmt"

	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/platform"
)

// Respondent is one response as seen by distribution, in submission order.
type Respondent struct {
	Participant ledger.Participant
	Rating      int
}

// Input is everything distribution needs from the closing poll.
type Input struct {
	Pool        ledger.Amount
	RewardType  ledger.RewardType
	FixedReward ledger.Amount
	Creator     ledger.Participant
	Platform    platform.Config
	Respondents []Respondent // submission order
}

// Plan is the set of value releases for one poll.
//
// Transfers carry recipient, amount and kind only; the engine stamps
// sequence numbers and the command id when it records them. Zero-amount
// releases are omitted.
type Plan struct {
	Fee       ledger.Amount
	PaidOut   ledger.Amount
	Refunded  ledger.Amount
	Transfers []ledger.Transfer
}

// Total returns fee + payouts + refunds.
func (p Plan) Total() ledger.Amount {
	return p.Fee + p.PaidOut + p.Refunded
}

func (p *Plan) add(to ledger.Participant, amount ledger.Amount, kind ledger.TransferKind) {
	if amount == 0 {
		return
	}
	switch kind {
	case ledger.TransferFee:
		p.Fee += amount
	case ledger.TransferPayout:
		p.PaidOut += amount
	case ledger.TransferRefund:
		p.Refunded += amount
	}
	p.Transfers = append(p.Transfers, ledger.Transfer{Recipient: to, Amount: amount, Kind: kind})
}

// Distribute splits in.Pool between the platform owner, the respondents and
// the creator according to in.RewardType.
func Distribute(in Input) (Plan, error) {
	if in.Pool < 0 {
		return Plan{}, fmt.Errorf("distribute: negative pool %d", in.Pool)
	}
	if len(in.Respondents) == 0 {
		return RefundAll(in.Pool, in.Creator), nil
	}

	var plan Plan
	switch in.RewardType {
	case ledger.EqualSplit:
		plan = feeThen(in, equalSplit)
	case ledger.WeightedQuality:
		plan = feeThen(in, weighted)
	case ledger.FixedPerResponse:
		var err error
		plan, err = fixedPerResponse(in)
		if err != nil {
			return Plan{}, err
		}
	default:
		return Plan{}, fmt.Errorf("distribute: unknown reward type %q", in.RewardType)
	}

	if err := checkConservation(plan, in.Pool); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// RefundAll returns the whole pool to the creator. Used for cancellation and
// for polls that close without reaching quorum.
func RefundAll(pool ledger.Amount, creator ledger.Participant) Plan {
	var plan Plan
	plan.add(creator, pool, ledger.TransferRefund)
	return plan
}

// feeThen takes the platform fee from the full pool and hands the rest to split.
func feeThen(in Input, split func(*Plan, ledger.Amount, []Respondent)) Plan {
	var plan Plan
	fee := in.Platform.Fee(in.Pool)
	plan.add(in.Platform.Owner, fee, ledger.TransferFee)
	split(&plan, in.Pool-fee, in.Respondents)
	return plan
}

// equalSplit pays distributable/n each; the remainder goes to the first
// respondent.
func equalSplit(plan *Plan, distributable ledger.Amount, rs []Respondent) {
	n := ledger.Amount(len(rs))
	share := distributable / n
	remainder := distributable % n
	for i, r := range rs {
		amount := share
		if i == 0 {
			amount += remainder
		}
		plan.add(r.Participant, amount, ledger.TransferPayout)
	}
}

// weighted pays distributable*rating/total each. The rounding remainder goes
// to the highest-rated respondent, earliest submission winning ties. With no
// ratings at all it falls back to equalSplit.
func weighted(plan *Plan, distributable ledger.Amount, rs []Respondent) {
	var total int64
	best := 0
	for i, r := range rs {
		total += int64(r.Rating)
		if r.Rating > rs[best].Rating {
			best = i
		}
	}
	if total == 0 {
		equalSplit(plan, distributable, rs)
		return
	}

	shares := make([]ledger.Amount, len(rs))
	var assigned ledger.Amount
	for i, r := range rs {
		shares[i] = mulDiv(distributable, int64(r.Rating), total)
		assigned += shares[i]
	}
	shares[best] += distributable - assigned

	for i, r := range rs {
		plan.add(r.Participant, shares[i], ledger.TransferPayout)
	}
}

// fixedPerResponse pays the committed amount per response and refunds the
// unused commitment to the creator. No fee is levied.
func fixedPerResponse(in Input) (Plan, error) {
	var plan Plan
	n := ledger.Amount(len(in.Respondents))
	if in.FixedReward <= 0 {
		return Plan{}, fmt.Errorf("distribute: fixed reward %d must be positive", in.FixedReward)
	}
	if n > in.Pool/in.FixedReward {
		return Plan{}, fmt.Errorf("distribute: %d responses at %d exceed pool %d", n, in.FixedReward, in.Pool)
	}
	for _, r := range in.Respondents {
		plan.add(r.Participant, in.FixedReward, ledger.TransferPayout)
	}
	plan.add(in.Creator, in.Pool-in.FixedReward*n, ledger.TransferRefund)
	return plan, nil
}

// mulDiv returns floor(a*b/c) for a >= 0, 0 <= b <= c, c > 0 without
// overflowing int64.
func mulDiv(a ledger.Amount, b, c int64) ledger.Amount {
	q, r := int64(a)/c, int64(a)%c
	return ledger.Amount(q*b + r*b/c)
}

func checkConservation(plan Plan, pool ledger.Amount) error {
	if plan.Total() != pool {
		return fmt.Errorf("conservation violated: fee %d + paid %d + refunded %d != pool %d",
			plan.Fee, plan.PaidOut, plan.Refunded, pool)
	}
	if sum := ledger.SumTransfers(plan.Transfers); sum != pool {
		return fmt.Errorf("conservation violated: transfers sum %d != pool %d", sum, pool)
	}
	return nil
}
