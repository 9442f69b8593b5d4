// Package rules owns the adaptive threshold snapshot: an immutable config
// published by atomic pointer swap and recomputed periodically from recent
// outcomes.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/finsentry/fraud-risk-service/internal/domain"
)

// Provider hands out the current threshold snapshot. Readers take one
// snapshot per job; the updater replaces the whole config atomically so a
// reader never observes a half-applied refresh.
type Provider struct {
	cur atomic.Pointer[domain.ThresholdConfig]
}

// NewProvider constructs a Provider seeded with the given snapshot.
func NewProvider(initial domain.ThresholdConfig) *Provider {
	p := &Provider{}
	p.cur.Store(&initial)
	return p
}

// Current returns the live snapshot.
func (p *Provider) Current() domain.ThresholdConfig {
	return *p.cur.Load()
}

func (p *Provider) publish(cfg domain.ThresholdConfig) {
	p.cur.Store(&cfg)
}

var _ domain.ThresholdProvider = (*Provider)(nil)

// LoadSnapshot reads a persisted snapshot from path. A missing file is not
// an error: the fallback config is returned so a fresh deployment starts
// from defaults.
func LoadSnapshot(path string, fallback domain.ThresholdConfig) (domain.ThresholdConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fallback, nil
		}
		return fallback, fmt.Errorf("op=rules.load: %w", err)
	}
	var cfg domain.ThresholdConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return fallback, fmt.Errorf("op=rules.load: %w", err)
	}
	return cfg, nil
}

// saveSnapshot persists cfg to path via write-then-rename so a crash never
// leaves a truncated file behind.
func saveSnapshot(path string, cfg domain.ThresholdConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("op=rules.save: %w", err)
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("op=rules.save: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("op=rules.save: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("op=rules.save: %w", err)
	}
	return nil
}
