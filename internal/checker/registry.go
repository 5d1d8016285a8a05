package checker

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/runner"
)

// Well-known strategy names.
const (
	NameStamp       = "stamp"
	NameSlurm       = "slurm"
	NameRemote      = "remote"
	NameFake        = "fake"
	NameNoop        = "noop"
	NameButler      = "butler"
	NameObjectStore = "objectstore"
)

// CheckerFactory builds a Checker.
type CheckerFactory func() (Checker, error)

// RollbackFactory builds a Rollback.
type RollbackFactory func() (Rollback, error)

// Registry resolves strategy names to instances. Factories are registered
// once at startup; each name is built on first use and cached.
type Registry struct {
	mu                sync.Mutex
	checkerFactories  map[string]CheckerFactory
	rollbackFactories map[string]RollbackFactory
	checkers          map[string]Checker
	rollbacks         map[string]Rollback
	group             singleflight.Group
}

// NewRegistry returns a registry with no strategies.
func NewRegistry() *Registry {
	return &Registry{
		checkerFactories:  map[string]CheckerFactory{},
		rollbackFactories: map[string]RollbackFactory{},
		checkers:          map[string]Checker{},
		rollbacks:         map[string]Rollback{},
	}
}

// NewDefaultRegistry registers the built-in strategies over runners:
// stamp files, polling for each registered runner method, noop, and
// collection removal through the bash runner.
func NewDefaultRegistry(runners *runner.Set) *Registry {
	r := NewRegistry()
	r.RegisterChecker(NameStamp, func() (Checker, error) { return Stamp{}, nil })
	for name, method := range map[string]core.Method{
		NameSlurm:  core.MethodSlurm,
		NameRemote: core.MethodRemote,
		NameFake:   core.MethodFake,
	} {
		r.RegisterChecker(name, func() (Checker, error) {
			run, err := runners.Get(method)
			if err != nil {
				return nil, err
			}
			return Poller{Runner: run}, nil
		})
	}

	r.RegisterRollback(NameNoop, func() (Rollback, error) { return Noop{}, nil })
	r.RegisterRollback(NameButler, func() (Rollback, error) {
		run, err := runners.Get(core.MethodBash)
		if err != nil {
			return nil, err
		}
		return CollectionRemover{Runner: run}, nil
	})
	r.RegisterRollback(NameRemote, func() (Rollback, error) {
		run, err := runners.Get(core.MethodRemote)
		if err != nil {
			return nil, err
		}
		return CollectionRemover{Runner: run}, nil
	})
	r.RegisterRollback(NameFake, func() (Rollback, error) {
		run, err := runners.Get(core.MethodFake)
		if err != nil {
			return nil, err
		}
		return CollectionRemover{Runner: run}, nil
	})
	return r
}

// RegisterChecker installs a checker factory under name.
func (r *Registry) RegisterChecker(name string, f CheckerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkerFactories[name] = f
	delete(r.checkers, name)
}

// RegisterRollback installs a rollback factory under name.
func (r *Registry) RegisterRollback(name string, f RollbackFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollbackFactories[name] = f
	delete(r.rollbacks, name)
}

// Checker returns the cached checker for name, building it on first use.
func (r *Registry) Checker(name string) (Checker, error) {
	r.mu.Lock()
	if c, ok := r.checkers[name]; ok {
		r.mu.Unlock()
		return c, nil
	}
	f, ok := r.checkerFactories[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown checker %q", name)
	}

	v, err, _ := r.group.Do("checker/"+name, func() (any, error) {
		r.mu.Lock()
		if c, ok := r.checkers[name]; ok {
			r.mu.Unlock()
			return c, nil
		}
		r.mu.Unlock()
		c, err := f()
		if err != nil {
			return nil, fmt.Errorf("build checker %q: %w", name, err)
		}
		r.mu.Lock()
		r.checkers[name] = c
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Checker), nil
}

// Rollback returns the cached rollback for name, building it on first use.
func (r *Registry) Rollback(name string) (Rollback, error) {
	r.mu.Lock()
	if rb, ok := r.rollbacks[name]; ok {
		r.mu.Unlock()
		return rb, nil
	}
	f, ok := r.rollbackFactories[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown rollback %q", name)
	}

	v, err, _ := r.group.Do("rollback/"+name, func() (any, error) {
		r.mu.Lock()
		if rb, ok := r.rollbacks[name]; ok {
			r.mu.Unlock()
			return rb, nil
		}
		r.mu.Unlock()
		rb, err := f()
		if err != nil {
			return nil, fmt.Errorf("build rollback %q: %w", name, err)
		}
		r.mu.Lock()
		r.rollbacks[name] = rb
		r.mu.Unlock()
		return rb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Rollback), nil
}

// DefaultCheckerFor names the checker used when a block names none.
func DefaultCheckerFor(method core.Method) string {
	switch method {
	case core.MethodSlurm:
		return NameSlurm
	case core.MethodRemote:
		return NameRemote
	case core.MethodFake:
		return NameFake
	}
	return NameStamp
}

// DefaultRollbackFor names the rollback used when a block names none.
func DefaultRollbackFor(method core.Method) string {
	switch method {
	case core.MethodRemote:
		return NameRemote
	case core.MethodFake:
		return NameFake
	}
	return NameNoop
}
