// Package harness runs ledger scenarios written in YAML.
//
// A scenario drives a fresh in-memory ledger through a list of steps and then
// checks assertions against the final state. Every run uses a deterministic
// wall clock (starting at testutil.Epoch) and sequential command ids, so the
// trace of a scenario is byte-for-byte reproducible and can be compared with
// a golden file.
//
// # Scenario Format
//
//	name: equal_split_remainder
//	description: "Three respondents share 100 with the remainder to the first"
//	fee_percent: 0
//	steps:
//	  - op: create_poll
//	    as: creator
//	    deadline: 1h
//	    max: 3
//	    reward_type: equal_split
//	    escrow: 100
//	  - op: submit
//	    as: alice
//	    poll: 0
//	  - op: submit
//	    as: alice
//	    poll: 0
//	    expect_error: DUPLICATE_ACTION
//	assertions:
//	  - type: poll_status
//	    poll: 0
//	    status: active
//	  - type: conservation
//
// A create_poll step may instead point at a CUE manifest with `manifest:`,
// resolved relative to the scenario file.
//
// # Operations
//
//   - create_poll, submit, finalize, cancel
//   - whitelist_add, whitelist_remove (participants)
//   - rate (respondent, rating)
//   - set_fee (fee)
//   - advance (by): moves the wall clock forward
//
// A step without expect_error must succeed; a step with one must fail with
// exactly that ledger error code.
//
// # Assertion Types
//
//   - poll_status: poll has status
//   - response_count: poll has count responses
//   - transfers: the poll released exactly the listed transfers, in order
//   - balance: participant was credited amount in total
//   - conservation: every poll passes the audit
//   - event_count: event type appears count times (optionally for one poll)
//   - event_order: event types appear in the given relative order
//   - fee_percent: the platform fee is fee
package harness
