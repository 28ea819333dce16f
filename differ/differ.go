package differ

import (
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/prometheus/client_golang/prometheus"
)

// --- Config and Main Struct ---
type ProtocolDiffer func(old, new any) (diff any, err error)

// StateDifferConfig holds all the individual differ functions and dependencies.
type StateDifferConfig struct {
	// One differ per schema (data contract), not per protocol identity.
	ProtocolDiffers map[engine.ProtocolSchema]ProtocolDiffer
	Registry        prometheus.Registerer
	Logger          Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *StateDifferConfig) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// StateDiffer computes the difference between consecutive states.
type StateDiffer struct {
	metrics         *Metrics
	logger          Logger
	protocolDiffers map[engine.ProtocolSchema]ProtocolDiffer
}

// NewStateDiffer constructs a new differ from a configuration, returning an error if the config is invalid.
func NewStateDiffer(cfg *StateDifferConfig) (*StateDiffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	protocolDiffers := make(map[engine.ProtocolSchema]ProtocolDiffer, len(cfg.ProtocolDiffers))
	for schema, protocolDiffer := range cfg.ProtocolDiffers {
		protocolDiffers[schema] = protocolDiffer
	}

	return &StateDiffer{
		metrics:         NewMetrics(cfg.Registry),
		logger:          cfg.Logger,
		protocolDiffers: protocolDiffers,
	}, nil
}

// Diff compares two error-free states. Protocols that appear only in the new state
// are diffed against a nil old value.
func (d *StateDiffer) Diff(old, new *engine.State) (*StateDiff, error) {
	totalTimer := prometheus.NewTimer(d.metrics.diffDuration.WithLabelValues())
	defer totalTimer.ObserveDuration()

	if old.HasErrors() || new.HasErrors() {
		return nil, errors.New("differ: received state with errors")
	}
	if new.Sequence < old.Sequence {
		return nil, fmt.Errorf("differ: new state sequence %d precedes old %d", new.Sequence, old.Sequence)
	}

	protocolDiffs := make(map[engine.ProtocolID]ProtocolDiff)
	for protocolID, newProtocolState := range new.Protocols {
		var oldData any
		if oldProtocolState, ok := old.Protocols[protocolID]; ok {
			if oldProtocolState.Schema != newProtocolState.Schema {
				d.metrics.diffErrors.WithLabelValues(string(protocolID)).Inc()
				return nil, fmt.Errorf("differ: schema changed for protocol %s (%s -> %s)", protocolID, oldProtocolState.Schema, newProtocolState.Schema)
			}
			oldData = oldProtocolState.Data
		}

		differFunc, exists := d.protocolDiffers[newProtocolState.Schema]
		if !exists {
			d.metrics.diffErrors.WithLabelValues(string(protocolID)).Inc()
			return nil, fmt.Errorf("no differ registered for schema %q", newProtocolState.Schema)
		}

		start := time.Now()
		diffData, err := differFunc(oldData, newProtocolState.Data)
		d.metrics.protocolDiffDuration.WithLabelValues(string(protocolID)).Observe(time.Since(start).Seconds())
		if err != nil {
			d.metrics.diffErrors.WithLabelValues(string(protocolID)).Inc()
			return nil, err
		}

		protocolDiffs[protocolID] = ProtocolDiff{
			Meta:   newProtocolState.Meta,
			Schema: newProtocolState.Schema,
			Data:   diffData,
		}
	}

	d.logger.Debug("state diffed",
		"from", old.Sequence,
		"to", new.Sequence,
		"protocols", len(protocolDiffs),
	)

	return &StateDiff{
		Timestamp:    uint64(time.Now().UnixNano()),
		FromSequence: old.Sequence,
		ToSequence:   new.Sequence,
		Protocols:    protocolDiffs,
	}, nil
}
