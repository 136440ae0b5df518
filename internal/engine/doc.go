// Package engine implements the poll lifecycle state machine.
//
// Every command runs as one store transaction:
//  1. Load the platform configuration and the target poll
//  2. Check access (creator, owner, whitelist)
//  3. Validate state and arguments
//  4. Apply the transition, including reward distribution when the poll closes
//  5. Stamp transfers and events with seq numbers from the logical Clock
//  6. Commit, then publish events to subscribers
//
// Any error before commit rolls everything back, so a rejected command leaves
// no trace: no id consumed, no transfer recorded, no event emitted.
//
// Poll state machine:
//
//	Active -> Closed     max responses reached, or Finalize after the deadline
//	Active -> Cancelled  creator cancels before the first response
//
// Closed and Cancelled are terminal.
//
// Ordering uses seq from the Clock, never wall time. Wall time (WallClock) is
// only compared against poll deadlines.
package engine
