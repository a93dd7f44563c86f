package reprivileger

import "context"

// Checker provides privilege checking bound to one user. It is typically
// created per request and stored in context for use in handlers. A checker
// for the internal caller (empty user ID) passes every predicate.
type Checker struct {
	userID string
	engine *Engine
}

// GetChecker creates a Checker for a user.
func (e *Engine) GetChecker(userID string) *Checker {
	return &Checker{userID: userID, engine: e}
}

// InternalChecker creates a Checker for internal/system calls.
func (e *Engine) InternalChecker() *Checker {
	return &Checker{engine: e}
}

// UserID returns the user ID this checker is for; empty for internal.
func (c *Checker) UserID() string {
	return c.userID
}

// IsInternal reports whether this checker bypasses authorization.
func (c *Checker) IsInternal() bool {
	return c.userID == ""
}

// AccessLevel computes the user's privilege bitmask over a record,
// including the administrator short-circuit.
func (c *Checker) AccessLevel(ctx context.Context, class, id string) (Privilege, error) {
	return c.engine.AccessLevelWithUser(ctx, c.userID, class, id)
}

// CanRead reports whether the user may read the record.
//
// Example:
//
//	if ok, _ := checker.CanRead(ctx, "ships", shipID); ok {
//	    // User may read this ship
//	}
func (c *Checker) CanRead(ctx context.Context, class, id string) (bool, error) {
	return c.engine.UserCanRead(ctx, c.userID, class, id)
}

// CanWrite reports whether the user may write the record.
func (c *Checker) CanWrite(ctx context.Context, class, id string) (bool, error) {
	return c.engine.UserCanWrite(ctx, c.userID, class, id)
}

// CanDelegate reports whether the user may grant or revoke authority over
// the record.
func (c *Checker) CanDelegate(ctx context.Context, class, id string) (bool, error) {
	if c.userID == "" {
		return true, nil
	}
	level, err := c.AccessLevel(ctx, class, id)
	if err != nil {
		return false, err
	}
	return level.CanDelegate(), nil
}

// CanListChildren reports whether the user may enumerate records pointing
// at this one.
func (c *Checker) CanListChildren(ctx context.Context, class, id string) (bool, error) {
	return c.engine.UserCanListChildren(ctx, c.userID, class, id)
}

// CanAddChildren reports whether the user may create records pointing at
// this one.
func (c *Checker) CanAddChildren(ctx context.Context, class, id string) (bool, error) {
	return c.engine.UserCanAddChildren(ctx, c.userID, class, id)
}

// IsAdministrator reports whether the user carries the configured
// administrator flag.
func (c *Checker) IsAdministrator(ctx context.Context) (bool, error) {
	return c.engine.UserIsAdministrator(ctx, c.userID)
}
