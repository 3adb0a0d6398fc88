package ir

// CmpOp is a comparison operator inside a find predicate.
type CmpOp string

// Comparison operators.
const (
	OpEq       CmpOp = "eq"
	OpNeq      CmpOp = "neq"
	OpGt       CmpOp = "gt"
	OpGte      CmpOp = "gte"
	OpLt       CmpOp = "lt"
	OpLte      CmpOp = "lte"
	OpIn       CmpOp = "in"
	OpIsNull   CmpOp = "is_null"
	OpNotNull  CmpOp = "is_not_null"
	OpContains CmpOp = "contains"
)

// Condition is a predicate tree over row fields.
//
// Exactly one of All, Any, or the Field/Op pair is populated per node. All
// and Any evaluate their children left to right; an implicit top-level
// conjunction is lowered by the frontend into an All group.
type Condition struct {
	// All holds conjunct children (`all of`, explicit `and`).
	All []Condition `json:"all,omitempty"`

	// Any holds disjunct children (`any of`, explicit `or`).
	Any []Condition `json:"any,omitempty"`

	// Field is the row field compared by a leaf node.
	Field string `json:"field,omitempty"`

	// Op is the leaf comparison operator.
	Op CmpOp `json:"op,omitempty"`

	// Value is the comparison operand. For OpIn it must be a list. String
	// values may be FlowState expressions resolved before evaluation.
	Value any `json:"value,omitempty"`
}

// IsLeaf reports whether the node is a field comparison.
func (c *Condition) IsLeaf() bool {
	return len(c.All) == 0 && len(c.Any) == 0
}

// SortKey orders find results by one field.
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// JoinSpec attaches a related row through a foreign-key field.
type JoinSpec struct {
	// Field is the foreign-key field on the found rows.
	Field string `json:"field"`

	// Record is the related record type.
	Record string `json:"record"`

	// As names the attached relationship. Defaults to Record when empty.
	As string `json:"as,omitempty"`
}

// FindSpec configures a find step.
type FindSpec struct {
	// Where filters rows. Nil matches every row.
	Where *Condition `json:"where,omitempty"`

	// Sort orders the matched rows. Empty preserves insertion order.
	Sort []SortKey `json:"sort,omitempty"`

	// Limit caps the result count. Nil means unlimited. Negative values are
	// step errors.
	Limit *int `json:"limit,omitempty"`

	// Offset skips ordered rows. Nil means zero. Negative values are step
	// errors.
	Offset *int `json:"offset,omitempty"`

	// Joins attaches related rows to each result.
	Joins []JoinSpec `json:"joins,omitempty"`
}
