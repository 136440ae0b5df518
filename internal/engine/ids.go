package engine

import (
	"github.com/google/uuid"
)

// CommandIDGenerator generates the id that correlates every transfer and
// event produced by one command.
// Implemented by UUIDv7Generator (production) and testutil.SequentialIDs (tests).
type CommandIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 command ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
