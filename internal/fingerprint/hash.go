package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/pulse/internal/ledger"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainPollData = "pulse/poll-data/v1"
	DomainAnswer   = "pulse/answer/v1"
	DomainEvent    = "pulse/event/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonically encodes v and hashes it under domain.
func Hash(domain string, v any) (string, error) {
	canonical, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// PollData fingerprints the off-ledger content of a poll. The ledger stores
// only the resulting hash as the poll's data hash.
func PollData(question string, options []string) (string, error) {
	if options == nil {
		options = []string{}
	}
	return Hash(DomainPollData, struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}{question, options})
}

// Answer fingerprints one participant's answer to a poll. The poll id is part
// of the hash so identical answers to different polls do not collide.
func Answer(pollID ledger.PollID, answer string) (string, error) {
	return Hash(DomainAnswer, struct {
		PollID ledger.PollID `json:"poll_id"`
		Answer string        `json:"answer"`
	}{pollID, answer})
}

// Event fingerprints a committed event. Used by audits to detect tampering
// with the persisted event log.
func Event(ev ledger.Event) (string, error) {
	return Hash(DomainEvent, ev)
}
