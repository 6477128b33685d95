// Operation kinds, their shared instance lifecycle and the registry
package operations

import (
	"sync"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

// Transform is one raster-to-raster capability. Process must not modify
// src and must either return a non-empty Mat or an error.
type Transform interface {
	Process(src gocv.Mat, values params.Values) (gocv.Mat, error)
}

// Stateful is implemented by transforms that remember data between calls
type Stateful interface {
	Transform
	Reset()
}

// Closer releases native resources held by a transform
type Closer interface {
	Close() error
}

// Factory builds a fresh transform of one kind
type Factory func() Transform

// Kind is the immutable descriptor of an operation
type Kind struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`
	Category    string        `json:"category"`
	Subcategory string        `json:"subcategory,omitempty"`
	Schema      params.Schema `json:"schema"`
}

// Instance is the single live object behind an identifier. It owns the
// current parameter values and serialises configure+process through mu.
type Instance struct {
	kind      Kind
	transform Transform

	mu     sync.Mutex
	values params.Values
}

func newInstance(kind Kind, transform Transform) *Instance {
	return &Instance{
		kind:      kind,
		transform: transform,
		values:    params.Defaults(kind.Schema),
	}
}

func (in *Instance) Kind() Kind {
	return in.kind
}

func (in *Instance) Transform() Transform {
	return in.transform
}

// Params returns a copy of the current parameter values
func (in *Instance) Params() params.Values {
	in.mu.Lock()
	defer in.mu.Unlock()
	return params.Clone(in.values)
}

// Configure merges overrides into the current values and returns a copy
func (in *Instance) Configure(overrides params.Values) params.Values {
	in.mu.Lock()
	defer in.mu.Unlock()
	params.Merge(in.values, overrides)
	return params.Clone(in.values)
}

// Do runs fn with the live value map while holding the instance lock.
// fn must not retain values after it returns.
func (in *Instance) Do(fn func(values params.Values) error) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return fn(in.values)
}

// Reset clears private state of stateful transforms
func (in *Instance) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if s, ok := in.transform.(Stateful); ok {
		s.Reset()
	}
}

func (in *Instance) close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if c, ok := in.transform.(Closer); ok {
		return c.Close()
	}
	return nil
}
