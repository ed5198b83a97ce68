package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Common errors.
var (
	ErrNoCreator      = errors.New("no runtime creator registered for backend type")
	ErrInvalidBackend = errors.New("backend configuration rejected by creator")
)

// Garbage collection pressure levels. Any value in 0..100 is legal;
// these are the conventional thresholds runtimes key their tiers off.
const (
	GCLight    = 25
	GCModerate = 50
	GCFull     = 100
)

// Runtime holds the device-global state shared by every backend it
// creates: pools, compiled kernels, the device handle itself.
type Runtime interface {
	// CreateBackend builds an execution backend bound to this
	// runtime's device state.
	CreateBackend(config *Config) (Backend, error)

	// GarbageCollect releases cached resources under memory pressure.
	// level runs 0..100; higher levels release more aggressively and
	// 100 means release everything releasable.
	GarbageCollect(level int)

	// MemoryInMB reports the device memory this runtime currently
	// holds.
	MemoryInMB() float64

	// GetCache serializes runtime-internal state, compiled kernels
	// mainly, into an opaque blob the caller can persist.
	GetCache() ([]byte, error)
	// SetCache restores state captured by a previous GetCache. A blob
	// from a different device or version is rejected, not applied.
	SetCache(blob []byte) error

	Close() error
}

// RuntimeCreator builds runtimes for one backend type.
type RuntimeCreator interface {
	CreateRuntime(info *Info) (Runtime, error)
	// Validate reports whether this creator can serve info on the
	// current machine, rewriting fields it can fix up in place.
	Validate(info *Info) bool
}

// Registry maps backend types to their runtime creators. The zero
// value is ready to use. Methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	creators map[ForwardType]RuntimeCreator
}

// NewRegistry returns an empty creator registry.
func NewRegistry() *Registry {
	return &Registry{creators: make(map[ForwardType]RuntimeCreator)}
}

// Register installs a creator for t. Registration is first-wins: a
// second creator for the same type is ignored and Register returns
// false.
func (r *Registry) Register(t ForwardType, c RuntimeCreator) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.creators == nil {
		r.creators = make(map[ForwardType]RuntimeCreator)
	}
	if _, ok := r.creators[t]; ok {
		return false
	}
	r.creators[t] = c
	return true
}

// Creator returns the creator registered for t.
func (r *Registry) Creator(t ForwardType) (RuntimeCreator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creators[t]
	return c, ok
}

// Types returns the registered backend types in stable order.
func (r *Registry) Types() []ForwardType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ForwardType, 0, len(r.creators))
	for t := range r.creators {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CreateRuntime validates info against the registered creator and
// builds a runtime. ForwardAuto falls back to the first registered
// type that validates.
func (r *Registry) CreateRuntime(info *Info) (Runtime, error) {
	if info.Type == ForwardAuto {
		for _, t := range r.Types() {
			probe := *info
			probe.Type = t
			if c, ok := r.Creator(t); ok && c.Validate(&probe) {
				return c.CreateRuntime(&probe)
			}
		}
		return nil, fmt.Errorf("%w: no registered backend validates", ErrNoCreator)
	}

	c, ok := r.Creator(info.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCreator, info.Type)
	}
	if !c.Validate(info) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBackend, info.Type)
	}
	return c.CreateRuntime(info)
}
