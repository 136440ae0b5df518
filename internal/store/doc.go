// Package store provides SQLite-backed durable storage for the poll ledger.
//
// The store holds:
//   - Polls and their responses (keyed by poll id and respondent)
//   - Per-poll whitelists
//   - The pending-transfer log consumed by settlement
//   - The append-only event log
//   - The platform configuration row and the poll-id counter
//
// # Transactions
//
// Every read and write goes through a Tx obtained from Store.Update or
// Store.View. The pool holds a single connection, so a transaction is also a
// global lock: read-validate-write sequences in the engine never interleave.
// Code running inside a transaction must only use the Tx it was given.
//
// The store performs no validation beyond schema constraints; lookups of
// missing polls or responses return ledger NotFound errors.
//
// # Ordering
//
// Transfers and events are ordered by seq (logical clock), never by time.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
