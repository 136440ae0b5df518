// Package ledger provides the shared record types of the poll-and-reward ledger.
//
// This package contains type definitions and error kinds only. Every other
// internal package imports ledger; ledger imports nothing internal, so it stays
// the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - value is an integer Amount
//   - Participants are opaque identifiers; the ledger never verifies them
//   - Ordering of events and transfers uses the logical seq, never wall time
//   - All JSON tags use snake_case
package ledger
