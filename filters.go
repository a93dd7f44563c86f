package reprivileger

import "time"

// AuditFilter provides options for filtering audit log queries.
type AuditFilter struct {
	// Filter by actor who performed the change
	ActorID string

	// Filter by user the grant was for
	TargetUserID string

	// Filter by grant target
	TargetClass string
	TargetID    string

	// Filter by action kind ("granted" or "revoked")
	Action AuditAction

	// Filter by time range
	Since time.Time
	Until time.Time

	// Pagination
	Limit  int
	Offset int
}

// NewAuditFilter creates an AuditFilter with default values.
func NewAuditFilter() AuditFilter {
	return AuditFilter{
		Limit: 100,
	}
}

// WithActor sets the actor ID filter.
func (f AuditFilter) WithActor(actorID string) AuditFilter {
	f.ActorID = actorID
	return f
}

// WithTargetUser sets the target user ID filter.
func (f AuditFilter) WithTargetUser(userID string) AuditFilter {
	f.TargetUserID = userID
	return f
}

// WithTarget sets the grant target filter.
func (f AuditFilter) WithTarget(class, id string) AuditFilter {
	f.TargetClass = class
	f.TargetID = id
	return f
}

// WithTargetClass sets only the target class filter.
func (f AuditFilter) WithTargetClass(class string) AuditFilter {
	f.TargetClass = class
	return f
}

// WithAction sets the action filter.
func (f AuditFilter) WithAction(action AuditAction) AuditFilter {
	f.Action = action
	return f
}

// WithTimeRange sets the time range filter.
func (f AuditFilter) WithTimeRange(since, until time.Time) AuditFilter {
	f.Since = since
	f.Until = until
	return f
}

// WithSince sets the start time filter.
func (f AuditFilter) WithSince(since time.Time) AuditFilter {
	f.Since = since
	return f
}

// WithUntil sets the end time filter.
func (f AuditFilter) WithUntil(until time.Time) AuditFilter {
	f.Until = until
	return f
}

// WithLimit sets the limit for results.
func (f AuditFilter) WithLimit(limit int) AuditFilter {
	f.Limit = limit
	return f
}

// WithOffset sets the offset for pagination.
func (f AuditFilter) WithOffset(offset int) AuditFilter {
	f.Offset = offset
	return f
}

// WithPagination sets both limit and offset.
func (f AuditFilter) WithPagination(limit, offset int) AuditFilter {
	f.Limit = limit
	f.Offset = offset
	return f
}
