package clmm

import (
	"fmt"
	"math/big"
	"time"
)

// WindowLength is the span of the rolling volume and fee counters.
const WindowLength = 24 * time.Hour

// Window holds rolling 24 hour volume and fee counters, keyed by input asset.
type Window struct {
	Start      time.Time `json:"start"`
	LastUpdate time.Time `json:"lastUpdate"`
	VolumeX    *big.Int  `json:"volumeX"`
	VolumeY    *big.Int  `json:"volumeY"`
	FeesX      *big.Int  `json:"feesX"`
	FeesY      *big.Int  `json:"feesY"`
}

func newWindow() Window {
	return Window{
		VolumeX: new(big.Int),
		VolumeY: new(big.Int),
		FeesX:   new(big.Int),
		FeesY:   new(big.Int),
	}
}

func (w Window) copy() Window {
	return Window{
		Start:      w.Start,
		LastUpdate: w.LastUpdate,
		VolumeX:    cloneInt(w.VolumeX),
		VolumeY:    cloneInt(w.VolumeY),
		FeesX:      cloneInt(w.FeesX),
		FeesY:      cloneInt(w.FeesY),
	}
}

// cloneInt copies v, treating nil as zero.
func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (w *Window) check(now time.Time) error {
	if now.Before(w.LastUpdate) {
		return fmt.Errorf("%w: %s before %s", ErrNonMonotonicTime, now.Format(time.RFC3339Nano), w.LastUpdate.Format(time.RFC3339Nano))
	}
	return nil
}

// record adds a swap to the window, starting a fresh window once the current one is
// WindowLength old. check must have passed for now.
func (w *Window) record(now time.Time, xIn bool, volume, fee *big.Int) {
	if w.Start.IsZero() || now.Sub(w.Start) >= WindowLength {
		w.Start = now
		w.VolumeX.SetInt64(0)
		w.VolumeY.SetInt64(0)
		w.FeesX.SetInt64(0)
		w.FeesY.SetInt64(0)
	}
	if xIn {
		w.VolumeX.Add(w.VolumeX, volume)
		w.FeesX.Add(w.FeesX, fee)
	} else {
		w.VolumeY.Add(w.VolumeY, volume)
		w.FeesY.Add(w.FeesY, fee)
	}
	w.LastUpdate = now
}

// Window returns a copy of the rolling counters.
func (p *Pool) Window() Window {
	return p.window.copy()
}
