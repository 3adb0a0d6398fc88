// Package ir defines the intermediate representation consumed by the Calyx
// flow engine.
//
// IR structures are produced by the language frontend (lexer, parser, and
// lowering, which live outside this module) and are treated as immutable by
// the engine. The engine validates runtime semantics only - unknown
// references, type mismatches, and missing fields surface as runtime errors
// with stable codes - never concrete syntax.
package ir

import "time"

// StepKind identifies the behavior of a single step.
//
// The kind set is closed: the engine builds a dispatch table over these
// values at startup, and an unknown kind is a validation error rather than
// a silent no-op.
type StepKind string

// Step kinds.
const (
	KindScript      StepKind = "script"
	KindAI          StepKind = "ai"
	KindTool        StepKind = "tool"
	KindAgent       StepKind = "agent"
	KindDBCreate    StepKind = "db_create"
	KindDBUpdate    StepKind = "db_update"
	KindDBDelete    StepKind = "db_delete"
	KindBulkCreate  StepKind = "bulk_create"
	KindBulkUpdate  StepKind = "bulk_update"
	KindBulkDelete  StepKind = "bulk_delete"
	KindFind        StepKind = "find"
	KindVectorIndex StepKind = "vector_index_frame"
	KindVectorQuery StepKind = "vector_query"
	KindIf          StepKind = "if"
	KindMatch       StepKind = "match"
	KindRetry       StepKind = "retry"
	KindLoop        StepKind = "loop"
	KindTransaction StepKind = "transaction"
)

// Step is one unit of execution within a flow.
//
// Kind selects which of the optional fields are meaningful. The frontend
// guarantees that the fields for the declared kind are populated; the engine
// validates their runtime semantics via Flow validation before the first run.
type Step struct {
	// Kind selects the step behavior.
	Kind StepKind `json:"kind"`

	// Alias optionally names the step's output. Aliased outputs are
	// addressable from later steps as "alias.output.<field>".
	Alias string `json:"alias,omitempty"`

	// Target is the model, tool, agent, or record name the step acts on.
	Target string `json:"target,omitempty"`

	// Params carries literal or expression-valued parameters for db writes
	// and tool arguments. String values are resolved against FlowState at
	// execution time.
	Params map[string]any `json:"params,omitempty"`

	// Script holds the statement list for script steps.
	Script []Stmt `json:"script,omitempty"`

	// Find configures find steps.
	Find *FindSpec `json:"find,omitempty"`

	// AI configures ai steps.
	AI *AISpec `json:"ai,omitempty"`

	// Where is the predicate for db_update, db_delete, and bulk variants.
	Where *Condition `json:"where,omitempty"`

	// Patch holds the field replacements for db_update / bulk_update.
	Patch map[string]any `json:"patch,omitempty"`

	// Source is the expression evaluated to the input list of a bulk step.
	Source string `json:"source,omitempty"`

	// Branches holds the ordered branch list for if steps.
	Branches []Branch `json:"branches,omitempty"`

	// Cases holds the ordered case list for match steps.
	Cases []MatchCase `json:"cases,omitempty"`

	// Subject is the expression matched against by match steps.
	Subject string `json:"subject,omitempty"`

	// Body is the inner step sequence for retry, loop, and transaction steps.
	Body []Step `json:"body,omitempty"`

	// Handler is the optional `on error` sequence for transaction steps.
	Handler []Step `json:"handler,omitempty"`

	// Retry configures retry steps.
	Retry *RetrySpec `json:"retry,omitempty"`

	// Loop configures loop steps.
	Loop *LoopSpec `json:"loop,omitempty"`

	// Vector configures vector_index_frame and vector_query steps.
	Vector *VectorSpec `json:"vector,omitempty"`
}

// Flow is an ordered sequence of steps identified by name.
//
// Flows are pure data: the engine never mutates them, and a single Flow value
// may be executed by any number of concurrent runs.
type Flow struct {
	// Name identifies the flow.
	Name string `json:"name"`

	// Steps are executed in order.
	Steps []Step `json:"steps"`

	// OnError is the optional flow-level error handler sequence. When a step
	// fails and the failure is not handled closer to the step, the handler
	// runs; if it completes without error the run is reported successful.
	OnError []Step `json:"on_error,omitempty"`
}

// StmtKind identifies a script statement.
type StmtKind string

// Script statement kinds.
const (
	StmtLet    StmtKind = "let"
	StmtSet    StmtKind = "set"
	StmtReturn StmtKind = "return"
)

// Stmt is one statement inside a script step.
type Stmt struct {
	Kind StmtKind `json:"kind"`

	// Name is the variable bound by let / assigned by set.
	Name string `json:"name,omitempty"`

	// Expr is resolved against FlowState to produce the statement's value.
	Expr string `json:"expr,omitempty"`
}

// Branch is one arm of an if step. A nil Condition marks the else arm.
type Branch struct {
	// When is the branch condition expression. Empty means "otherwise".
	When string `json:"when,omitempty"`

	// Steps run when the condition holds.
	Steps []Step `json:"steps"`
}

// PatternKind identifies the shape of a match pattern.
type PatternKind string

// Match pattern kinds supported by the current language version.
//
// PatternComparison exists so the frontend can lower a comparison expression
// inside a `when` pattern without understanding version gates; the engine
// rejects it at validation time as an unsupported construct.
const (
	PatternLiteral    PatternKind = "literal"
	PatternOK         PatternKind = "ok"
	PatternError      PatternKind = "error"
	PatternOtherwise  PatternKind = "otherwise"
	PatternComparison PatternKind = "comparison"
)

// MatchCase is one arm of a match step.
type MatchCase struct {
	Kind PatternKind `json:"kind"`

	// Value is the literal compared against for PatternLiteral.
	Value any `json:"value,omitempty"`

	// Raw preserves the rejected comparison text for error reporting.
	Raw string `json:"raw,omitempty"`

	// Steps run when the pattern matches.
	Steps []Step `json:"steps"`
}

// RetrySpec configures a retry block.
type RetrySpec struct {
	// Attempts is the maximum number of executions of the body.
	Attempts int `json:"attempts"`

	// Backoff is the delay inserted between attempts. Zero means none.
	Backoff time.Duration `json:"backoff,omitempty"`
}

// LoopSpec configures a loop step. Exactly one of Source or Times is set.
type LoopSpec struct {
	// Var is the loop variable bound for each iteration.
	Var string `json:"var,omitempty"`

	// Vars destructures a record or list element into multiple bound names.
	// When set, Var is ignored.
	Vars []string `json:"vars,omitempty"`

	// Source is the expression evaluated to the iterated list (`for each`).
	Source string `json:"source,omitempty"`

	// Times runs the body a fixed number of iterations (`up to N times`).
	Times int `json:"times,omitempty"`
}

// VectorSpec configures vector steps.
type VectorSpec struct {
	// Store references a declared vector store.
	Store string `json:"store"`

	// Frame is the source frame for vector_index_frame.
	Frame string `json:"frame,omitempty"`

	// TextField selects the row field embedded for vector_index_frame.
	TextField string `json:"text_field,omitempty"`

	// QueryText is the similarity query for vector_query.
	QueryText string `json:"query_text,omitempty"`

	// TopK limits vector_query results. Zero means the store default.
	TopK int `json:"top_k,omitempty"`
}

// AISpec configures an ai step.
type AISpec struct {
	// Model is the logical model name resolved through the router.
	Model string `json:"model"`

	// Prompt is appended to the run's message history as a user turn.
	// String values are expanded against FlowState.
	Prompt string `json:"prompt,omitempty"`

	// System optionally sets the system prompt for the call.
	System string `json:"system,omitempty"`

	// Tools names the tool definitions offered to the provider.
	Tools []string `json:"tools,omitempty"`

	// ToolLoop enables the bounded provider/tool alternation.
	ToolLoop bool `json:"tool_loop,omitempty"`

	// MaxToolIterations caps the alternation. Zero means the engine default.
	MaxToolIterations int `json:"max_tool_iterations,omitempty"`

	// Stream requests chunked delivery through the run's event callback.
	Stream bool `json:"stream,omitempty"`
}
