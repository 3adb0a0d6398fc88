package engine

import (
	"context"
	"fmt"

	"github.com/calyxlang/calyx/pkg/calyx/ir"
)

// execVectorIndex embeds a frame's text field through the external vector
// store.
func (e *Engine) execVectorIndex(ctx context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	if e.vectors == nil {
		return nil, &StepError{
			Code: CodeNoVectorStore,
			Step: label,
			Kind: s.Kind,
			Err:  fmt.Errorf("no vector store configured"),
		}
	}
	v := s.Vector
	rows := e.store.Rows(v.Frame)
	n, err := e.vectors.IndexFrame(ctx, v.Store, rows, v.TextField)
	if err != nil {
		return nil, err
	}
	return map[string]any{"indexed": n}, nil
}

// execVectorQuery runs a similarity search through the external vector
// store.
func (e *Engine) execVectorQuery(ctx context.Context, rc *runCtx, label string, s *ir.Step) (any, error) {
	if e.vectors == nil {
		return nil, &StepError{
			Code: CodeNoVectorStore,
			Step: label,
			Kind: s.Kind,
			Err:  fmt.Errorf("no vector store configured"),
		}
	}
	v := s.Vector
	query, err := e.expander.Expand(v.QueryText, rc.st)
	if err != nil {
		return nil, err
	}
	rows, err := e.vectors.Query(ctx, v.Store, query, v.TopK)
	if err != nil {
		return nil, err
	}
	return rowsToAny(rows), nil
}
