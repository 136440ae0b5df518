// Package access answers "may this caller do this?" for ledger commands.
//
// The predicates are pure: they take already-loaded records and never touch
// the store. The Require* forms turn a failed predicate into an Unauthorized
// error carrying the poll and caller.
package access

import (
	"github.com/roach88/pulse/internal/ledger"
	"github.com/roach88/pulse/internal/platform"
)

// IsCreator reports whether p created poll.
func IsCreator(poll ledger.Poll, p ledger.Participant) bool {
	return poll.Creator == p
}

// IsOwner reports whether p owns the platform.
func IsOwner(cfg platform.Config, p ledger.Participant) bool {
	return cfg.Owner != "" && cfg.Owner == p
}

// IsWhitelisted reports whether p may respond to poll. Polls that do not
// require a whitelist admit everyone.
func IsWhitelisted(poll ledger.Poll, wl ledger.Whitelist, p ledger.Participant) bool {
	if !poll.RequiresWhitelist {
		return true
	}
	return wl.Contains(p)
}

// RequireCreator fails with Unauthorized unless p created poll.
func RequireCreator(poll ledger.Poll, p ledger.Participant) error {
	if !IsCreator(poll, p) {
		return ledger.Errorf(ledger.ErrCodeUnauthorized, "not poll creator").ForPoll(poll.ID).By(p)
	}
	return nil
}

// RequireOwner fails with Unauthorized unless p owns the platform.
func RequireOwner(cfg platform.Config, p ledger.Participant) error {
	if !IsOwner(cfg, p) {
		return ledger.Errorf(ledger.ErrCodeUnauthorized, "not platform owner").By(p)
	}
	return nil
}

// RequireWhitelisted fails with Unauthorized unless p may respond to poll.
func RequireWhitelisted(poll ledger.Poll, wl ledger.Whitelist, p ledger.Participant) error {
	if !IsWhitelisted(poll, wl, p) {
		return ledger.Errorf(ledger.ErrCodeUnauthorized, "not whitelisted").ForPoll(poll.ID).By(p)
	}
	return nil
}
