package ir

// Version constants for the journal format and engine.
const (
	// JournalVersion is the persisted event journal format version.
	JournalVersion = "1"

	// EngineVersion is the domino engine version.
	EngineVersion = "0.1.0"
)
