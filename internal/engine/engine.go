package engine

import (
	"log/slog"

	"github.com/lsst-dm/cm-tools-sub000/internal/core"
	"github.com/lsst-dm/cm-tools-sub000/internal/handler"
)

// DefaultMaxIterations bounds the sweeps of one Check call.
const DefaultMaxIterations = 100

// Engine drives entries through the lifecycle. It is single-writer: one
// Engine per database, used from one goroutine at a time.
type Engine struct {
	db            core.DB
	handlers      *handler.Registry
	logger        *slog.Logger
	maxIterations int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxIterations sets the iteration limit of Check.
//
// Default: 100 (DefaultMaxIterations)
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		e.maxIterations = n
	}
}

// New returns an engine over db resolving handlers through handlers.
func New(db core.DB, handlers *handler.Registry, opts ...Option) *Engine {
	e := &Engine{
		db:            db,
		handlers:      handlers,
		logger:        slog.Default(),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Change is one entry status transition.
type Change struct {
	Fullname string      `json:"fullname"`
	Level    core.Level  `json:"-"`
	From     core.Status `json:"from"`
	To       core.Status `json:"to"`
}

// Result summarizes a Check call.
type Result struct {
	Iterations int      `json:"iterations"`
	Changes    []Change `json:"changes"`
}
