// Package scoring provides carrier score sources for cascade building.
package scoring

import (
	"context"
	"sync"
)

// StaticProvider serves carrier scores from an in-memory map, typically
// seeded from configuration. Carriers without a score are reported as
// unknown so the builder can fail closed.
type StaticProvider struct {
	mu     sync.RWMutex
	scores map[string]float64
}

// NewStaticProvider creates a provider seeded with the given scores.
func NewStaticProvider(scores map[string]float64) *StaticProvider {
	cp := make(map[string]float64, len(scores))
	for k, v := range scores {
		cp[k] = v
	}
	return &StaticProvider{scores: cp}
}

// CurrentScore returns the carrier's score and whether one is known.
func (p *StaticProvider) CurrentScore(_ context.Context, carrierID string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.scores[carrierID]
	return s, ok
}

// Set updates one carrier's score.
func (p *StaticProvider) Set(carrierID string, score float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scores[carrierID] = score
}
