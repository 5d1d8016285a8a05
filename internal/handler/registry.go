package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/lsst-dm/cm-tools-sub000/internal/checker"
	"github.com/lsst-dm/cm-tools-sub000/internal/config"
	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/runner"
)

// Key identifies one handler instance: the handler class of an entry plus
// the configuration block it was built from.
type Key struct {
	Class    string
	ConfigID int64
	Block    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%d/%s", k.Class, k.ConfigID, k.Block)
}

// Constructor builds the handler for key from its parsed block.
type Constructor func(r *Registry, key Key, cfg *config.Config, block *config.Block) (EntryHandler, error)

// Registry resolves entries to handlers. Constructors are registered once
// at startup; each key is built on first use and cached, and parsed
// configuration documents are cached by row id.
type Registry struct {
	runners  *runner.Set
	checkers *checker.Registry
	logger   *slog.Logger

	scripts *ScriptHandler
	jobs    *JobHandler

	mu           sync.Mutex
	constructors map[string]Constructor
	handlers     map[Key]EntryHandler
	configs      map[int64]*config.Config
	group        singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used by handlers.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry returns a registry with a level handler registered for each
// of the five entry classes.
func NewRegistry(runners *runner.Set, checkers *checker.Registry, opts ...Option) *Registry {
	r := &Registry{
		runners:      runners,
		checkers:     checkers,
		logger:       slog.Default(),
		constructors: map[string]Constructor{},
		handlers:     map[Key]EntryHandler{},
		configs:      map[int64]*config.Config{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.scripts = &ScriptHandler{reg: r}
	r.jobs = &JobHandler{reg: r}
	for _, level := range core.Levels() {
		r.Register(level.String(), NewLevelHandler(level))
	}
	return r
}

// Register installs a constructor for class, replacing any earlier one.
// Cached handlers of that class are dropped.
func (r *Registry) Register(class string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[class] = c
	for k := range r.handlers {
		if k.Class == class {
			delete(r.handlers, k)
		}
	}
}

// Scripts returns the script handler.
func (r *Registry) Scripts() *ScriptHandler { return r.scripts }

// Jobs returns the job handler.
func (r *Registry) Jobs() *JobHandler { return r.jobs }

// Logger returns the handler logger.
func (r *Registry) Logger() *slog.Logger { return r.logger }

// ForEntry returns the handler recorded on e.
func (r *Registry) ForEntry(ctx context.Context, db core.DB, e core.Entry) (EntryHandler, error) {
	return r.Resolve(ctx, db, Key{Class: e.Handler, ConfigID: e.ConfigID, Block: e.ConfigBlock})
}

// Resolve returns the handler for key, building it on first use.
func (r *Registry) Resolve(ctx context.Context, db core.DB, key Key) (EntryHandler, error) {
	r.mu.Lock()
	h, ok := r.handlers[key]
	c, known := r.constructors[key.Class]
	r.mu.Unlock()
	if ok {
		return h, nil
	}
	if !known {
		return nil, fmt.Errorf("resolve handler %s: unknown class %q", key, key.Class)
	}

	cfg, err := r.Config(ctx, db, key.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("resolve handler %s: %w", key, err)
	}
	block, err := cfg.Block(key.Block)
	if err != nil {
		return nil, fmt.Errorf("resolve handler %s: %w", key, err)
	}
	h, err = c(r, key, cfg, block)
	if err != nil {
		return nil, fmt.Errorf("resolve handler %s: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.handlers[key]; ok {
		return cached, nil
	}
	r.handlers[key] = h
	return h, nil
}

// Config returns the parsed configuration document with row id id.
func (r *Registry) Config(ctx context.Context, db core.DB, id int64) (*config.Config, error) {
	r.mu.Lock()
	cfg, ok := r.configs[id]
	r.mu.Unlock()
	if ok {
		return cfg, nil
	}

	v, err, _ := r.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		r.mu.Lock()
		cfg, ok := r.configs[id]
		r.mu.Unlock()
		if ok {
			return cfg, nil
		}
		doc, err := db.GetConfig(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load config %d: %w", id, err)
		}
		cfg, err = config.Parse([]byte(doc.Body))
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", doc.Name, err)
		}
		r.mu.Lock()
		r.configs[id] = cfg
		r.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*config.Config), nil
}

// block returns the named block of configuration id.
func (r *Registry) block(ctx context.Context, db core.DB, id int64, name string) (*config.Block, error) {
	cfg, err := r.Config(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return cfg.Block(name)
}
