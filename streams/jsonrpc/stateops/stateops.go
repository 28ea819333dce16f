package stateops

import (
	"encoding/json"
	"fmt"

	"github.com/defistate/defistate-clmm-go/differ"
	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/patcher"
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/protocols/poolregistry"
	"github.com/defistate/defistate-clmm-go/protocols/poolregistry/indexer"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateOps bundles the two halves of state streaming:
// 1. Differ: computing the delta between two states (server side).
// 2. Patcher: applying a delta to a previous state to reconstruct the present (client side).
type StateOps struct {
	*differ.StateDiffer
	*patcher.StatePatcher
}

func NewStateOps(
	logger Logger,
	prometheusRegistry prometheus.Registerer,
) (*StateOps, error) {
	protocolDiffers := map[engine.ProtocolSchema]differ.ProtocolDiffer{
		clmm.Schema: func(old, new any) (any, error) {
			var prev []clmm.PoolView
			if old != nil {
				prev = old.([]clmm.PoolView)
			}
			return clmm.Differ(prev, new.([]clmm.PoolView)), nil
		},
		poolregistry.Schema: func(old, new any) (any, error) {
			var prev poolregistry.PoolRegistry
			if old != nil {
				prev = old.(poolregistry.PoolRegistry)
			}
			return poolregistry.Differ(prev, new.(poolregistry.PoolRegistry)), nil
		},
	}

	protocolPatchers := map[engine.ProtocolSchema]patcher.PatcherFunc{
		clmm.Schema: func(prevState, diff any) (any, error) {
			var prev []clmm.PoolView
			if prevState != nil {
				prev = prevState.([]clmm.PoolView)
			}
			return clmm.Patcher(prev, diff.(clmm.SystemDiff))
		},
		poolregistry.Schema: func(prevState, diff any) (any, error) {
			var prev poolregistry.PoolRegistry
			if prevState != nil {
				prev = prevState.(poolregistry.PoolRegistry)
			}
			return poolregistry.Patcher(prev, diff.(poolregistry.PoolRegistryDiff))
		},
	}

	stateDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{
		ProtocolDiffers: protocolDiffers,
		Logger:          logger,
		Registry:        prometheusRegistry,
	})
	if err != nil {
		return nil, err
	}

	statePatcher, err := patcher.NewStatePatcher(&patcher.StatePatcherConfig{
		Patchers: protocolPatchers,
	})
	if err != nil {
		return nil, err
	}

	return &StateOps{
		StateDiffer:  stateDiffer,
		StatePatcher: statePatcher,
	}, nil
}

// DecodeStateJSON decodes a protocol's full view according to its schema.
func (ops *StateOps) DecodeStateJSON(
	schema engine.ProtocolSchema,
	data json.RawMessage,
) (any, error) {
	switch schema {
	case clmm.Schema:
		var typedData []clmm.PoolView
		if err := json.Unmarshal(data, &typedData); err != nil {
			return nil, err
		}
		return typedData, nil
	case poolregistry.Schema:
		var typedData poolregistry.PoolRegistry
		if err := json.Unmarshal(data, &typedData); err != nil {
			return nil, err
		}
		return typedData, nil
	default:
		return nil, fmt.Errorf("unknown schema %q", schema)
	}
}

// DecodeStateDiffJSON decodes a protocol's diff according to its schema.
func (ops *StateOps) DecodeStateDiffJSON(
	schema engine.ProtocolSchema,
	data json.RawMessage,
) (any, error) {
	switch schema {
	case clmm.Schema:
		var typedData clmm.SystemDiff
		if err := json.Unmarshal(data, &typedData); err != nil {
			return nil, err
		}
		return typedData, nil
	case poolregistry.Schema:
		var typedData poolregistry.PoolRegistryDiff
		if err := json.Unmarshal(data, &typedData); err != nil {
			return nil, err
		}
		return typedData, nil
	default:
		return nil, fmt.Errorf("unknown schema %q", schema)
	}
}

// IndexRegistry finds the pool registry in a decoded state and indexes it for lookups
// by id, address, pair and asset.
func IndexRegistry(state *engine.State) (indexer.IndexedPoolRegistry, error) {
	for id, p := range state.Protocols {
		if p.Schema != poolregistry.Schema {
			continue
		}
		if p.Error != "" {
			return nil, fmt.Errorf("protocol %s: %s", id, p.Error)
		}
		view, ok := p.Data.(poolregistry.PoolRegistry)
		if !ok {
			return nil, fmt.Errorf("protocol %s: unexpected data type %T", id, p.Data)
		}
		return indexer.New().Index(view), nil
	}
	return nil, fmt.Errorf("state %d carries no pool registry", state.Sequence)
}
