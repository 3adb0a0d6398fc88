// Package engine executes Calyx flows.
//
// The engine interprets a flow's step sequence and control-flow constructs
// (conditionals, pattern matching, bounded retries, loops, transactions)
// over the in-memory record store, delegating AI and tool calls to external
// collaborators through the resilience layer. Runs are synchronous
// (Run) or streaming (RunStream), and multiple runs may execute
// concurrently over one Engine.
package engine

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/calyxlang/calyx/pkg/calyx/config"
	"github.com/calyxlang/calyx/pkg/calyx/ir"
	"github.com/calyxlang/calyx/pkg/calyx/journal"
	"github.com/calyxlang/calyx/pkg/calyx/llm"
	"github.com/calyxlang/calyx/pkg/calyx/observability"
	"github.com/calyxlang/calyx/pkg/calyx/registry"
	"github.com/calyxlang/calyx/pkg/calyx/resilience"
	"github.com/calyxlang/calyx/pkg/calyx/store"
	"github.com/calyxlang/calyx/pkg/calyx/template"
	"github.com/calyxlang/calyx/pkg/calyx/tool"
)

// AgentRunner delegates agent steps to a higher-level orchestrator. It is
// an external collaborator supplied by the host application.
type AgentRunner interface {
	// Run executes one agent turn with the forwarded execution context.
	Run(ctx context.Context, agent string, input map[string]any) (any, error)
}

// VectorStore handles embedding and similarity search for vector steps.
// Embedding math lives entirely behind this boundary.
type VectorStore interface {
	// IndexFrame embeds the text field of each row and stores the vectors.
	// Returns the number of rows indexed.
	IndexFrame(ctx context.Context, name string, rows []store.Row, textField string) (int, error)

	// Query returns the rows most similar to the query text.
	Query(ctx context.Context, name string, queryText string, topK int) ([]store.Row, error)
}

// Engine interprets flows against a record store and external collaborators.
type Engine struct {
	store    *store.Store
	router   llm.Router
	tools    *registry.Registry[string, *tool.Config]
	client   *tool.Client
	agents   AgentRunner
	vectors  VectorStore
	breakers *resilience.BreakerRegistry
	limiters *resilience.LimiterRegistry
	journal  journal.Store
	cache    llm.Cache
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	expander *template.Expander
	runtime  config.Runtime

	handlers map[ir.StepKind]stepHandler
}

// Option configures an Engine.
type Option func(*Engine)

// WithRouter sets the model router used by ai steps.
func WithRouter(r llm.Router) Option {
	return func(e *Engine) { e.router = r }
}

// WithTools registers tool definitions by name.
func WithTools(configs ...*tool.Config) Option {
	return func(e *Engine) {
		for _, c := range configs {
			e.tools.Register(c.Name, c)
		}
	}
}

// WithHTTPClient sets the HTTP client backing tool calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Engine) { e.client = tool.NewClient(hc) }
}

// WithAgentRunner sets the agent delegation collaborator.
func WithAgentRunner(a AgentRunner) Option {
	return func(e *Engine) { e.agents = a }
}

// WithVectorStore sets the vector search collaborator.
func WithVectorStore(v VectorStore) Option {
	return func(e *Engine) { e.vectors = v }
}

// WithJournal persists one entry per executed step. Journaling is
// best-effort: append failures are logged, never fatal to the run.
func WithJournal(j journal.Store) Option {
	return func(e *Engine) { e.journal = j }
}

// WithCache serves repeat provider calls from a fingerprint-keyed cache.
func WithCache(c llm.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger enables structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics enables metric recording.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracing enables span creation per run and step.
func WithTracing(s observability.SpanManager) Option {
	return func(e *Engine) { e.spans = s }
}

// WithRuntime overrides the engine's runtime defaults.
func WithRuntime(rt config.Runtime) Option {
	return func(e *Engine) { e.runtime = rt }
}

// WithBreakers shares an existing breaker registry, letting multiple
// engines in one process agree on circuit state.
func WithBreakers(b *resilience.BreakerRegistry) Option {
	return func(e *Engine) { e.breakers = b }
}

// New creates an Engine over a record store.
//
// The step dispatch table is built here, once: every step kind maps to one
// handler, and an unknown kind is caught by flow validation rather than
// dispatch.
func New(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		tools:    registry.New[string, *tool.Config](),
		client:   tool.NewClient(nil),
		limiters: resilience.NewLimiterRegistry(),
		metrics:  observability.NoopMetrics{},
		expander: template.NewExpander(),
		runtime:  config.DefaultRuntime(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breakers == nil {
		e.breakers = resilience.NewBreakerRegistry(resilience.BreakerConfig{
			FailureThreshold: e.runtime.BreakerThreshold,
			ResetTimeout:     e.runtime.BreakerReset,
		})
	}

	e.handlers = map[ir.StepKind]stepHandler{
		ir.KindScript:      e.execScript,
		ir.KindAI:          e.execAI,
		ir.KindTool:        e.execTool,
		ir.KindAgent:       e.execAgent,
		ir.KindDBCreate:    e.execDBCreate,
		ir.KindDBUpdate:    e.execDBUpdate,
		ir.KindDBDelete:    e.execDBDelete,
		ir.KindBulkCreate:  e.execBulkCreate,
		ir.KindBulkUpdate:  e.execBulkUpdate,
		ir.KindBulkDelete:  e.execBulkDelete,
		ir.KindFind:        e.execFind,
		ir.KindVectorIndex: e.execVectorIndex,
		ir.KindVectorQuery: e.execVectorQuery,
		ir.KindIf:          e.execIf,
		ir.KindMatch:       e.execMatch,
		ir.KindRetry:       e.execRetry,
		ir.KindLoop:        e.execLoop,
		ir.KindTransaction: e.execTransaction,
	}
	return e
}

// Store returns the engine's record store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Tools returns the tool registry for inspection and late registration.
func (e *Engine) Tools() *registry.Registry[string, *tool.Config] {
	return e.tools
}
