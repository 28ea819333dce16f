package differ

import "github.com/defistate/defistate-clmm-go/engine"

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type ProtocolDiff struct {
	Meta engine.ProtocolMeta `json:"meta"`

	// Schema is the decode contract for Data.
	// Examples:
	// "defistate/clmm/poolView@v1"
	// "defistate/clmm/poolRegistry@v1"
	Schema engine.ProtocolSchema `json:"schema"`

	// Data is the protocol diff, shaped by Schema.
	Data any `json:"data,omitempty"`

	// Error is populated if this protocol's view could not be produced.
	Error string `json:"error,omitempty"`
}

// StateDiff represents a summary of changes from one sequence to another.
type StateDiff struct {
	Timestamp    uint64                             `json:"timestamp"`
	FromSequence uint64                             `json:"fromSequence"`
	ToSequence   uint64                             `json:"toSequence"`
	Protocols    map[engine.ProtocolID]ProtocolDiff `json:"protocols"`
}
