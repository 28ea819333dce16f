package patcher

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-clmm-go/differ"
	"github.com/defistate/defistate-clmm-go/engine"
)

// PatcherFunc applies a diff to a previous protocol view to produce a new one.
//
// CONTRACT:
// 1. Immutability: Implementations MUST NOT mutate 'prevState'. They must create a copy.
// 2. nil Handling: 'prevState' may be nil if this is a newly added protocol.
type PatcherFunc func(prevState any, diffData any) (newState any, err error)

type StatePatcherConfig struct {
	// Map Schema -> Patcher Function
	// Example: "defistate/clmm/poolView@v1" -> clmm patcher
	Patchers map[engine.ProtocolSchema]PatcherFunc
}

func (c *StatePatcherConfig) validate() error {
	for schema, patcher := range c.Patchers {
		if patcher == nil {
			return fmt.Errorf("patcher for schema %q cannot be nil", schema)
		}
	}
	return nil
}

// StatePatcher applies state diffs produced by the differ.
type StatePatcher struct {
	patchers map[engine.ProtocolSchema]PatcherFunc
}

// NewStatePatcher constructs a new patcher from a configuration.
func NewStatePatcher(cfg *StatePatcherConfig) (*StatePatcher, error) {
	if cfg == nil {
		return nil, errors.New("patcher: config cannot be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	patchers := make(map[engine.ProtocolSchema]PatcherFunc, len(cfg.Patchers))
	for k, v := range cfg.Patchers {
		patchers[k] = v
	}

	return &StatePatcher{
		patchers: patchers,
	}, nil
}

// Patch creates a new State by applying the diff to the old state.
// Protocols the diff does not mention are shared by reference with oldState.
func (p *StatePatcher) Patch(oldState *engine.State, diff *differ.StateDiff) (*engine.State, error) {
	if oldState.Sequence != diff.FromSequence {
		return nil, fmt.Errorf("patcher: mismatch fromSequence (state=%d, diff=%d)", oldState.Sequence, diff.FromSequence)
	}
	if diff.ToSequence < diff.FromSequence {
		return nil, fmt.Errorf("patcher: diff goes backwards (%d -> %d)", diff.FromSequence, diff.ToSequence)
	}

	newProtocols := make(map[engine.ProtocolID]engine.ProtocolState, len(oldState.Protocols)+len(diff.Protocols))
	for k, v := range oldState.Protocols {
		newProtocols[k] = v
	}

	for protocolID, protocolDiff := range diff.Protocols {
		patcherFunc, ok := p.patchers[protocolDiff.Schema]
		if !ok {
			return nil, fmt.Errorf("patcher: no patcher registered for schema %q (protocol=%s)", protocolDiff.Schema, protocolID)
		}

		var oldData any
		if oldResult, exists := oldState.Protocols[protocolID]; exists {
			if oldResult.Schema != protocolDiff.Schema {
				return nil, fmt.Errorf("patcher: schema mismatch for protocol %s (old=%s, diff=%s)", protocolID, oldResult.Schema, protocolDiff.Schema)
			}
			oldData = oldResult.Data
		}

		newData, err := patcherFunc(oldData, protocolDiff.Data)
		if err != nil {
			return nil, fmt.Errorf("patcher: failed to patch protocol %s: %w", protocolID, err)
		}

		newProtocols[protocolID] = engine.ProtocolState{
			Meta:   protocolDiff.Meta,
			Schema: protocolDiff.Schema,
			Data:   newData,
			Error:  protocolDiff.Error,
		}
	}

	return &engine.State{
		Sequence:  diff.ToSequence,
		Timestamp: diff.Timestamp,
		Protocols: newProtocols,
	}, nil
}
