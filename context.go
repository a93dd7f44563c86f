package reprivileger

import (
	"context"
)

// Context keys for engine values.
type contextKey string

const (
	contextKeyActorID   contextKey = "reprivileger:actor_id"
	contextKeyInternal  contextKey = "reprivileger:internal"
	contextKeyIPAddress contextKey = "reprivileger:ip_address"
	contextKeyUserAgent contextKey = "reprivileger:user_agent"
	contextKeyRequestID contextKey = "reprivileger:request_id"
	contextKeyChecker   contextKey = "reprivileger:checker"
	contextKeyHeldLocks contextKey = "reprivileger:held_locks"
)

// WithActor marks the context as an external call acting on behalf of the
// given user. Every guarded engine entry point reads the actor from here.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyActorID, userID)
}

// ActorID retrieves the acting user from context.
// Returns empty string if the call is internal or no actor was set.
func ActorID(ctx context.Context) string {
	if v := ctx.Value(contextKeyActorID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithInternalCall marks the context as an internal/system call that
// bypasses authorization. This replaces any previously set actor.
func WithInternalCall(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, contextKeyActorID, "")
	return context.WithValue(ctx, contextKeyInternal, true)
}

// IsInternalCall reports whether the context carries the internal-call
// marker or no actor at all. A missing actor means the host itself is
// calling; hosts fronting external traffic must set the actor on every
// request before reaching the engine.
func IsInternalCall(ctx context.Context) bool {
	if v := ctx.Value(contextKeyInternal); v != nil {
		if b, ok := v.(bool); ok && b {
			return true
		}
	}
	return ActorID(ctx) == ""
}

// WithIPAddress adds the client IP address to the context (for audit).
func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyIPAddress, ip)
}

// GetIPAddress retrieves the IP address from context.
func GetIPAddress(ctx context.Context) string {
	if v := ctx.Value(contextKeyIPAddress); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithUserAgent adds the user agent to the context (for audit).
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, contextKeyUserAgent, ua)
}

// GetUserAgent retrieves the user agent from context.
func GetUserAgent(ctx context.Context) string {
	if v := ctx.Value(contextKeyUserAgent); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context (for audit and correlation).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(contextKeyRequestID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithChecker adds a Checker to the context.
// Hosts typically set this once per request and read it in handlers.
func WithChecker(ctx context.Context, checker *Checker) context.Context {
	return context.WithValue(ctx, contextKeyChecker, checker)
}

// GetChecker retrieves the Checker from context.
// Returns nil if not set.
func GetChecker(ctx context.Context) *Checker {
	if v := ctx.Value(contextKeyChecker); v != nil {
		if c, ok := v.(*Checker); ok {
			return c
		}
	}
	return nil
}

// FromContext retrieves the Checker from context.
// Alias for GetChecker for convenience.
func FromContext(ctx context.Context) *Checker {
	return GetChecker(ctx)
}

// withHeldLock records that the named lock is held by this call scope, so a
// nested guarded operation against the same scope runs its work directly
// instead of re-acquiring. The map is copied; sibling contexts are not
// affected.
func withHeldLock(ctx context.Context, name string) context.Context {
	held := map[string]bool{name: true}
	if v, ok := ctx.Value(contextKeyHeldLocks).(map[string]bool); ok {
		for k := range v {
			held[k] = true
		}
	}
	return context.WithValue(ctx, contextKeyHeldLocks, held)
}

// lockHeld reports whether the named lock is already held by this call scope.
func lockHeld(ctx context.Context, name string) bool {
	if v, ok := ctx.Value(contextKeyHeldLocks).(map[string]bool); ok {
		return v[name]
	}
	return false
}

// AuditContext holds all audit-related information from context.
type AuditContext struct {
	ActorID   string
	IPAddress string
	UserAgent string
	RequestID string
}

// GetAuditContext extracts all audit information from context.
func GetAuditContext(ctx context.Context) AuditContext {
	return AuditContext{
		ActorID:   ActorID(ctx),
		IPAddress: GetIPAddress(ctx),
		UserAgent: GetUserAgent(ctx),
		RequestID: GetRequestID(ctx),
	}
}
