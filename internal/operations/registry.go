package operations

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"image-pipeline/internal/params"
)

type binding struct {
	kind    Kind
	factory Factory
}

// Registry maps operation identifiers to lazily created singleton instances
type Registry struct {
	logger logrus.FieldLogger

	mu        sync.RWMutex
	bindings  map[string]binding
	order     []string
	instances map[string]*Instance
}

func NewRegistry(logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		logger:    logger,
		bindings:  make(map[string]binding),
		instances: make(map[string]*Instance),
	}
}

// Register binds an identifier to a kind. A later registration of the same
// identifier replaces the earlier one and discards its live instance.
func (r *Registry) Register(kind Kind, factory Factory) {
	if kind.ID == "" || factory == nil {
		panic("operations: Register requires an id and a factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bindings[kind.ID]; !exists {
		r.order = append(r.order, kind.ID)
	}
	r.bindings[kind.ID] = binding{kind: kind, factory: factory}

	if old, ok := r.instances[kind.ID]; ok {
		delete(r.instances, kind.ID)
		if err := old.close(); err != nil {
			r.logger.WithError(err).WithField("operation", kind.ID).Warn("Failed to close replaced instance")
		}
	}
}

// Resolve returns the singleton instance for id, creating it on first use
func (r *Registry) Resolve(id string) (*Instance, error) {
	r.mu.RLock()
	inst, ok := r.instances[id]
	r.mu.RUnlock()
	if ok {
		return inst, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[id]; ok {
		return inst, nil
	}
	b, ok := r.bindings[id]
	if !ok {
		return nil, &UnknownOperationError{ID: id}
	}

	inst = newInstance(b.kind, b.factory())
	r.instances[id] = inst
	r.logger.WithField("operation", id).Debug("Instantiated operation")
	return inst, nil
}

// Kinds lists every registered kind in registration order without instantiating any
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.order))
	for _, id := range r.order {
		kinds = append(kinds, r.bindings[id].kind)
	}
	return kinds
}

func (r *Registry) Kind(id string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bindings[id]
	if !ok {
		return Kind{}, &UnknownOperationError{ID: id}
	}
	return b.kind, nil
}

func (r *Registry) Schema(id string) (params.Schema, error) {
	kind, err := r.Kind(id)
	if err != nil {
		return nil, err
	}
	return kind.Schema, nil
}

// Params returns a copy of the current values of id's live instance. An
// identifier that was never resolved reports its schema defaults and stays
// uninstantiated.
func (r *Registry) Params(id string) (params.Values, error) {
	r.mu.RLock()
	inst, live := r.instances[id]
	b, known := r.bindings[id]
	r.mu.RUnlock()

	switch {
	case live:
		return inst.Params(), nil
	case known:
		return params.Defaults(b.kind.Schema), nil
	default:
		return nil, &UnknownOperationError{ID: id}
	}
}

// SetParams merges overrides into id's live instance outside of a pipeline
func (r *Registry) SetParams(id string, overrides params.Values) (params.Values, error) {
	inst, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	return inst.Configure(overrides), nil
}

// Reset clears private state of every live stateful instance
func (r *Registry) Reset() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.instances {
		inst.Reset()
	}
}

// Fork returns a registry with the same bindings and no live instances
func (r *Registry) Fork() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	forked := NewRegistry(r.logger)
	for _, id := range r.order {
		forked.order = append(forked.order, id)
		forked.bindings[id] = r.bindings[id]
	}
	return forked
}

// Close releases every live instance. The registry stays usable and
// instances are recreated on the next Resolve.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, inst := range r.instances {
		if err := inst.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(r.instances, id)
	}
	return errors.Join(errs...)
}
