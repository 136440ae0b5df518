package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/pulse/internal/engine"
	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against the ledger and returns
// the failure messages. Assertions are independent: one failing does not
// stop the others.
func EvaluateAssertions(ctx context.Context, eng *engine.Engine, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(ctx, eng, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, eng *engine.Engine, a Assertion) error {
	switch a.Type {
	case AssertPollStatus:
		return assertPollStatus(ctx, eng, a)
	case AssertResponseCount:
		return assertResponseCount(ctx, eng, a)
	case AssertTransfers:
		return assertTransfers(ctx, eng, a)
	case AssertBalance:
		return assertBalance(ctx, eng, a)
	case AssertConservation:
		return assertConservation(ctx, eng)
	case AssertEventCount:
		return assertEventCount(ctx, eng, a)
	case AssertEventOrder:
		return assertEventOrder(ctx, eng, a)
	case AssertFeePercent:
		return assertFeePercent(ctx, eng, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertPollStatus(ctx context.Context, eng *engine.Engine, a Assertion) error {
	poll, err := eng.GetPoll(ctx, *a.Poll)
	if err != nil {
		return err
	}
	if string(poll.Status) != a.Status {
		return &AssertionError{
			Type:     AssertPollStatus,
			Expected: fmt.Sprintf("poll %d is %s", *a.Poll, a.Status),
			Actual:   string(poll.Status),
		}
	}
	return nil
}

func assertResponseCount(ctx context.Context, eng *engine.Engine, a Assertion) error {
	poll, err := eng.GetPoll(ctx, *a.Poll)
	if err != nil {
		return err
	}
	if poll.ResponseCount != *a.Count {
		return &AssertionError{
			Type:     AssertResponseCount,
			Expected: fmt.Sprintf("poll %d has %d responses", *a.Poll, *a.Count),
			Actual:   fmt.Sprintf("%d responses", poll.ResponseCount),
		}
	}
	return nil
}

func assertTransfers(ctx context.Context, eng *engine.Engine, a Assertion) error {
	got, err := eng.Transfers(ctx, store.TransferFilter{PollID: a.Poll})
	if err != nil {
		return err
	}

	if len(got) == len(a.Transfers) {
		match := true
		for i, want := range a.Transfers {
			tr := got[i]
			if string(tr.Recipient) != want.Recipient || int64(tr.Amount) != want.Amount || string(tr.Kind) != want.Kind {
				match = false
				break
			}
		}
		if match {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTransfers,
		Expected: formatExpectedTransfers(a.Transfers),
		Actual:   formatTransfers(got),
	}
}

func assertBalance(ctx context.Context, eng *engine.Engine, a Assertion) error {
	all, err := eng.Transfers(ctx, store.TransferFilter{})
	if err != nil {
		return err
	}
	var total ledger.Amount
	for _, tr := range all {
		if string(tr.Recipient) == a.Participant {
			total += tr.Amount
		}
	}
	if int64(total) != *a.Amount {
		return &AssertionError{
			Type:     AssertBalance,
			Expected: fmt.Sprintf("%s credited %d", a.Participant, *a.Amount),
			Actual:   fmt.Sprintf("%d", total),
		}
	}
	return nil
}

func assertConservation(ctx context.Context, eng *engine.Engine) error {
	report, err := eng.Audit(ctx)
	if err != nil {
		return err
	}
	if report.Failures == 0 {
		return nil
	}
	var problems []string
	for _, p := range report.Polls {
		if !p.OK {
			problems = append(problems, fmt.Sprintf("poll %d: %s", p.PollID, p.Problem))
		}
	}
	return &AssertionError{
		Type:     AssertConservation,
		Expected: "every poll releases exactly its pool",
		Actual:   strings.Join(problems, "; "),
	}
}

func assertEventCount(ctx context.Context, eng *engine.Engine, a Assertion) error {
	evs, err := eng.Events(ctx, 0, 0)
	if err != nil {
		return err
	}
	count := 0
	for _, ev := range evs {
		if string(ev.Type) != a.Event {
			continue
		}
		if a.Poll != nil && (ev.PollID == nil || *ev.PollID != *a.Poll) {
			continue
		}
		count++
	}
	if count != *a.Count {
		scope := ""
		if a.Poll != nil {
			scope = fmt.Sprintf(" for poll %d", *a.Poll)
		}
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%s x%d%s", a.Event, *a.Count, scope),
			Actual:   fmt.Sprintf("%s x%d", a.Event, count),
		}
	}
	return nil
}

// assertEventOrder checks that the listed event types occur as a subsequence
// of the event log. Intervening events are allowed.
func assertEventOrder(ctx context.Context, eng *engine.Engine, a Assertion) error {
	evs, err := eng.Events(ctx, 0, 0)
	if err != nil {
		return err
	}
	next := 0
	for _, ev := range evs {
		if next < len(a.Events) && string(ev.Type) == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}

	types := make([]string, len(evs))
	for i, ev := range evs {
		types[i] = string(ev.Type)
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: strings.Join(a.Events, " -> "),
		Actual:   fmt.Sprintf("missing %s in %s", a.Events[next], strings.Join(types, " -> ")),
	}
}

func assertFeePercent(ctx context.Context, eng *engine.Engine, a Assertion) error {
	pct, err := eng.PlatformFeePercent(ctx)
	if err != nil {
		return err
	}
	if pct != *a.Fee {
		return &AssertionError{
			Type:     AssertFeePercent,
			Expected: fmt.Sprintf("%d%%", *a.Fee),
			Actual:   fmt.Sprintf("%d%%", pct),
		}
	}
	return nil
}

func formatExpectedTransfers(ts []ExpectedTransfer) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = fmt.Sprintf("%s %s %d", t.Kind, t.Recipient, t.Amount)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatTransfers(ts []ledger.Transfer) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = fmt.Sprintf("%s %s %d", t.Kind, t.Recipient, t.Amount)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
