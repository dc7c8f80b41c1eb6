package health

import (
	"strings"
	"sync"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// Registration binds a probe to the key it reports under.
type Registration struct {
	Key   string
	Probe Probe
}

// Registry holds the configured probes in registration order.
// It is built once at startup and read by every run.
type Registry struct {
	mu   sync.RWMutex
	regs []Registration
	keys map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{keys: make(map[string]struct{})}
}

// Add registers p under key. Keys must be non-blank and unique.
func (r *Registry) Add(key string, p Probe) error {
	if strings.TrimSpace(key) == "" {
		return xerrors.New("probe key is empty")
	}
	if p == nil {
		return xerrors.Newf("probe %q is nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys == nil {
		r.keys = make(map[string]struct{})
	}
	if _, dup := r.keys[key]; dup {
		return xerrors.Newf("probe %q already registered", key)
	}
	r.keys[key] = struct{}{}
	r.regs = append(r.regs, Registration{Key: key, Probe: p})
	return nil
}

// MustAdd is Add for wiring code where a duplicate is a programming error.
func (r *Registry) MustAdd(key string, p Probe) {
	if err := r.Add(key, p); err != nil {
		panic(err)
	}
}

func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[key]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regs)
}

// Keys returns the registered keys in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.regs))
	for i, reg := range r.regs {
		out[i] = reg.Key
	}
	return out
}

// Registrations returns a snapshot safe to iterate without locking.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Registration(nil), r.regs...)
}
