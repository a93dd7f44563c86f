package reprivileger

import (
	"context"
)

// Depth outcome codes returned alongside the error by
// CheckRecursiveDocumentDepth.
const (
	DepthStoreError = -1
	DepthCycle      = -2
	DepthExcessive  = -3
)

// maxReferenceDepth bounds both the visited set of the depth checker and the
// stack walk.
const maxReferenceDepth = 65535

// CheckRecursiveDocumentDepth follows record[field] from (class, id) to the
// next record of the same class until the chain terminates, and returns the
// number of hops. A revisited id is a cycle (DepthCycle); a visited set of
// maxReferenceDepth or more ids is excessive (DepthExcessive); a store
// failure is DepthStoreError. Each outcome carries a matching error.
//
// The visited set is not path-scoped, so a diamond-shaped but acyclic
// reference graph is also flagged as a cycle; the conservative reading is
// intentional. Pass nil for visited unless resuming a traversal.
func (e *Engine) CheckRecursiveDocumentDepth(ctx context.Context, class, id, field string, visited map[string]bool) (int, error) {
	if visited == nil {
		visited = make(map[string]bool)
	}
	if visited[id] {
		return DepthCycle, NewError(ErrReference, "reference cycle").WithClass(class).WithField(field)
	}
	if len(visited) >= maxReferenceDepth {
		return DepthExcessive, NewError(ErrReference, "reference chain too deep").WithClass(class).WithField(field)
	}
	visited[id] = true

	record, err := e.store.Get(ctx, class, id)
	if err != nil {
		return DepthStoreError, wrapStoreErr(err, "reference chain lookup failed")
	}
	next, ok := record[field].(string)
	if !ok || next == "" {
		return 0, nil
	}
	depth, err := e.CheckRecursiveDocumentDepth(ctx, class, next, field, visited)
	if err != nil {
		return depth, err
	}
	return depth + 1, nil
}

// GetDocumentStack collects the full reference chain: the starting record
// comes first and the terminal base record last. The same cycle and depth
// bounds apply as in CheckRecursiveDocumentDepth.
func (e *Engine) GetDocumentStack(ctx context.Context, class, id, field string) ([]Record, error) {
	visited := make(map[string]bool)
	var stack []Record
	current := id
	for {
		if visited[current] {
			return nil, NewError(ErrReference, "reference cycle").WithClass(class).WithField(field)
		}
		if len(visited) >= maxReferenceDepth {
			return nil, NewError(ErrReference, "reference chain too deep").WithClass(class).WithField(field)
		}
		visited[current] = true

		record, err := e.store.Get(ctx, class, current)
		if err != nil {
			return nil, wrapStoreErr(err, "reference chain lookup failed")
		}
		stack = append(stack, record)

		next, ok := record[field].(string)
		if !ok || next == "" {
			return stack, nil
		}
		current = next
	}
}

// GetDocumentBase returns the terminal record of the reference chain.
func (e *Engine) GetDocumentBase(ctx context.Context, class, id, field string) (Record, error) {
	stack, err := e.GetDocumentStack(ctx, class, id, field)
	if err != nil {
		return nil, err
	}
	return stack[len(stack)-1], nil
}
