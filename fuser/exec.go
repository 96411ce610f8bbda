package fuser

import (
	"strings"
	"sync"

	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/fusionbench/types/tensors"
	"github.com/pkg/errors"
)

// DefaultExecMaxCacheSize is the default number of compiled definitions an Exec caches,
// one per combination of input shapes.
const DefaultExecMaxCacheSize = 10

// BuildFn describes a fusion for an Exec: it receives the declared input nodes, wires
// the operations and registers the outputs with def.AddOutput.
type BuildFn func(def *Definition, inputs []*Node)

// Exec is the trace-compiled execution path: it wraps a BuildFn and compiles it lazily,
// once per combination of input shapes seen at Call time. Compiled definitions are
// cached and reused, so after the first Call with a given set of shapes, later calls
// only pay for the execution itself.
type Exec struct {
	backend backends.Backend
	name    string
	buildFn BuildFn

	mu           sync.Mutex
	cache        map[string]*Definition
	maxCacheSize int
}

// NewExec creates an Exec for the given build function.
func NewExec(backend backends.Backend, name string, buildFn BuildFn) *Exec {
	return &Exec{
		backend:      backend,
		name:         name,
		buildFn:      buildFn,
		cache:        make(map[string]*Definition),
		maxCacheSize: DefaultExecMaxCacheSize,
	}
}

// SetMaxCache sets the maximum number of compiled definitions kept in the cache.
// It returns the Exec, so calls can be chained.
func (e *Exec) SetMaxCache(maxCacheSize int) *Exec {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxCacheSize = maxCacheSize
	return e
}

// Name of the Exec.
func (e *Exec) Name() string { return e.name }

// signature uniquely identifies a combination of input shapes.
func signature(inputShapes []shapes.Shape) string {
	parts := make([]string, len(inputShapes))
	for ii, shape := range inputShapes {
		parts[ii] = shape.String()
	}
	return strings.Join(parts, ";")
}

// DefinitionFor returns the compiled definition for the given input shapes, building
// and compiling it on the first use.
func (e *Exec) DefinitionFor(inputShapes ...shapes.Shape) (*Definition, error) {
	key := signature(inputShapes)
	e.mu.Lock()
	defer e.mu.Unlock()
	if def, found := e.cache[key]; found {
		return def, nil
	}
	if len(e.cache) >= e.maxCacheSize {
		return nil, errors.Errorf("exec %q: cache of compiled definitions is full (%d entries), "+
			"when called with new input shapes %s -- if this is intended, increase the cache size with exec.SetMaxCache()",
			e.name, e.maxCacheSize, key)
	}
	def := New(e.backend, e.name)
	inputs := make([]*Node, len(inputShapes))
	for ii, shape := range inputShapes {
		inputs[ii] = def.DefineTensor(shape)
	}
	e.buildFn(def, inputs)
	if err := def.Compile(); err != nil {
		return nil, errors.WithMessagef(err, "exec %q: compiling for input shapes %s", e.name, key)
	}
	e.cache[key] = def
	return def, nil
}

// Call executes the fusion for the given inputs, compiling it first if this combination
// of input shapes has not been seen yet.
func (e *Exec) Call(inputs ...*tensors.Tensor) ([]*tensors.Tensor, error) {
	inputShapes := make([]shapes.Shape, len(inputs))
	for ii, input := range inputs {
		inputShapes[ii] = input.Shape()
	}
	def, err := e.DefinitionFor(inputShapes...)
	if err != nil {
		return nil, err
	}
	return def.Execute(inputs...)
}

// Finalize frees all cached compiled definitions.
func (e *Exec) Finalize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, def := range e.cache {
		def.Finalize()
		delete(e.cache, key)
	}
}
