package ledger

// Version constants for the ledger schema and engine.
const (
	// SchemaVersion is the version of the persisted record layout.
	SchemaVersion = "1"

	// EngineVersion is the pulse engine version.
	EngineVersion = "0.1.0"
)
