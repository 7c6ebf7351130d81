package bootcfg

import "sync"

// Holder provides thread-safe access to a mutable *Config that a SIGHUP
// reload updates in one place, matching the teacher's config.Holder.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder creates a Holder with the initial config and its source path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Config returns the current config snapshot.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the bootstrap file path (immutable after construction).
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the held config, e.g. after a SIGHUP reload.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}
