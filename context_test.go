package reprivileger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestActorContext tests actor propagation
func TestActorContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ActorID(ctx))
	assert.True(t, IsInternalCall(ctx), "no actor means internal")

	ctx = WithActor(ctx, "u1")
	assert.Equal(t, "u1", ActorID(ctx))
	assert.False(t, IsInternalCall(ctx))
}

// TestInternalCallContext tests the explicit internal marker
func TestInternalCallContext(t *testing.T) {
	ctx := WithActor(context.Background(), "u1")
	ctx = WithInternalCall(ctx)

	// Internal replaces any previously set actor.
	assert.Empty(t, ActorID(ctx))
	assert.True(t, IsInternalCall(ctx))
}

// TestAuditContext tests audit metadata extraction
func TestAuditContext(t *testing.T) {
	ctx := WithActor(context.Background(), "u1")
	ctx = WithIPAddress(ctx, "10.0.0.1")
	ctx = WithUserAgent(ctx, "agent")
	ctx = WithRequestID(ctx, "req-1")

	assert.Equal(t, "10.0.0.1", GetIPAddress(ctx))
	assert.Equal(t, "agent", GetUserAgent(ctx))
	assert.Equal(t, "req-1", GetRequestID(ctx))

	audit := GetAuditContext(ctx)
	assert.Equal(t, AuditContext{
		ActorID:   "u1",
		IPAddress: "10.0.0.1",
		UserAgent: "agent",
		RequestID: "req-1",
	}, audit)

	// Missing values come back empty.
	assert.Equal(t, AuditContext{}, GetAuditContext(context.Background()))
}

// TestCheckerContext tests checker storage in context
func TestCheckerContext(t *testing.T) {
	engine, _ := newTestEngine(t)

	assert.Nil(t, GetChecker(context.Background()))
	assert.Nil(t, FromContext(context.Background()))

	checker := engine.GetChecker("u1")
	ctx := WithChecker(context.Background(), checker)
	assert.Same(t, checker, GetChecker(ctx))
	assert.Same(t, checker, FromContext(ctx))
}

// TestHeldLockContext tests the held-lock markers
func TestHeldLockContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, lockHeld(ctx, "ships"))

	held := withHeldLock(ctx, "ships")
	assert.True(t, lockHeld(held, "ships"))
	assert.False(t, lockHeld(held, "partners"))

	// Markers accumulate and never leak to sibling contexts.
	both := withHeldLock(held, "partners")
	assert.True(t, lockHeld(both, "ships"))
	assert.True(t, lockHeld(both, "partners"))
	assert.False(t, lockHeld(held, "partners"))
}
