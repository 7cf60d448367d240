package registry

import (
	"sync"

	"horizon-index/src/config"
	"horizon-index/src/logger"
	"horizon-index/src/models"
)

// -----------------------------------------------------------------------------
// Registry holds the constituent basket and the index base parameters.
// Read-only during a calculation cycle; mutated only by an explicit
// Reload, which diffs added/removed tickers against the previous set.
// -----------------------------------------------------------------------------

type Registry struct {
	Logger *logger.Logger

	configPath string
	mu         sync.RWMutex
	order      []string
	members    map[string]models.MConstituentConfig
	index      models.MIndexConfig
}

// -----------------------------------------------------------------------------

// NewRegistry builds a registry from an already loaded config. configPath
// is the file Reload re-reads; it may be "" when reload is not used
// (tests).
func NewRegistry(cfg *models.MConfig, configPath string, log *logger.Logger) *Registry {
	r := &Registry{
		Logger:     log,
		configPath: configPath,
		members:    make(map[string]models.MConstituentConfig),
		index:      cfg.Index,
	}
	r.apply(cfg.Constituents)
	return r
}

// -----------------------------------------------------------------------------

func (r *Registry) apply(constituents []models.MConstituentConfig) {
	r.order = r.order[:0]
	r.members = make(map[string]models.MConstituentConfig, len(constituents))
	for _, c := range constituents {
		r.order = append(r.order, c.Ticker)
		r.members[c.Ticker] = c
	}
}

// -----------------------------------------------------------------------------

// Tickers returns the basket tickers in config order.
func (r *Registry) Tickers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// -----------------------------------------------------------------------------

// Get returns the config for a ticker; ok is false for non-members.
func (r *Registry) Get(ticker string) (models.MConstituentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.members[ticker]
	return c, ok
}

// -----------------------------------------------------------------------------

// FreeFloatFactor returns the FIF for a ticker, defaulting to 0.5 for
// members without an explicit factor.
func (r *Registry) FreeFloatFactor(ticker string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.members[ticker]
	if !ok || c.FreeFloatFactor == 0 {
		return 0.5
	}
	return c.FreeFloatFactor
}

// -----------------------------------------------------------------------------

// Index returns the index base parameters (base date/value, schedule).
func (r *Registry) Index() models.MIndexConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}

// -----------------------------------------------------------------------------

// Count returns the number of basket members.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// -----------------------------------------------------------------------------

// Reload re-reads the config file and swaps the basket, returning the
// added and removed tickers relative to the previous set. A read failure
// leaves the current basket untouched.
func (r *Registry) Reload() (added []string, removed []string, err error) {
	if r.configPath == "" {
		return nil, nil, nil
	}

	cfg, err := config.NewConfig(r.configPath)
	if err != nil {
		r.Logger.Error("Registry reload failed, keeping current basket: %v", err)
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	oldSet := make(map[string]bool, len(r.order))
	for _, t := range r.order {
		oldSet[t] = true
	}

	r.apply(cfg.Constituents)
	r.index = cfg.Index

	newSet := make(map[string]bool, len(r.order))
	for _, t := range r.order {
		newSet[t] = true
		if !oldSet[t] {
			added = append(added, t)
		}
	}
	for t := range oldSet {
		if !newSet[t] {
			removed = append(removed, t)
		}
	}

	if len(added) > 0 || len(removed) > 0 {
		r.Logger.Info("Constituent change detected. Added: %v, Removed: %v", added, removed)
	}
	return added, removed, nil
}
