package reprivileger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCheckTypesCreateValid tests a well-formed create
func TestCheckTypesCreateValid(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	partnerID := seedRecord(t, store, "partners", Record{"name": "Acme"})
	err := engine.CheckTypesCreate(ctx, "ships", Record{
		"name":       "Dawn Treader",
		"partner_id": partnerID,
		"tonnage":    12000,
	})
	assert.NoError(t, err)
}

// TestCheckTypesDeclaredTypes tests type conformance failures
func TestCheckTypesDeclaredTypes(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	err := engine.CheckTypesCreate(ctx, "ships", Record{"name": 42})
	require.Error(t, err)
	assert.True(t, IsValidationFailed(err))

	var detailed *Error
	require.True(t, errors.As(err, &detailed))
	assert.Equal(t, "ships", detailed.Class)
	assert.Equal(t, "name", detailed.Field)
}

// TestCheckTypesExclusive tests rejection of undocumented fields
func TestCheckTypesExclusive(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	err := engine.CheckTypesCreate(ctx, "ships", Record{"name": "Dawn", "bogus": 1})
	require.Error(t, err)
	assert.True(t, IsValidationFailed(err))

	// Non-exclusive checks ignore unknown fields.
	err = engine.CheckTypes(ctx, "ships", Record{"name": "Dawn", "bogus": 1},
		CheckOptions{Operation: OpCreate, Dramatic: true})
	assert.NoError(t, err)
}

// TestCheckTypesNullHandling tests explicit null values
func TestCheckTypesNullHandling(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	err := engine.CheckTypesCreate(ctx, "ships", Record{"name": "Dawn", "registry_no": nil})
	require.Error(t, err)
	assert.True(t, IsValidationFailed(err))

	err = engine.CheckTypesCreate(ctx, "ships", Record{"name": "Dawn", "description": nil})
	assert.NoError(t, err)
}

// TestCheckTypesProtectedFields tests read-only, computed and label fields
func TestCheckTypesProtectedFields(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	tests := []struct {
		name   string
		class  string
		record Record
	}{
		{"Read-only field", "partners", Record{"name": "Acme", "balance": 10}},
		{"Computed field", "ships", Record{"name": "Dawn", "display_name": "SS Dawn"}},
		{"Label field", "partners", Record{"name": "Acme", "banner": "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.CheckTypesCreate(ctx, tt.class, tt.record)
			require.Error(t, err)
			assert.True(t, IsAccessDenied(err))
		})
	}
}

// TestCheckTypesAdministratorOnly tests the administrator-only restriction
func TestCheckTypesAdministratorOnly(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	adminID := seedAdmin(t, store, "root")
	userID := seedUser(t, store, "alice")
	record := Record{"name": "eve", "administrator": true}

	err := engine.CheckTypesCreate(WithActor(ctx, userID), "users", record)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))

	assert.NoError(t, engine.CheckTypesCreate(WithActor(ctx, adminID), "users", record))
	assert.NoError(t, engine.CheckTypesCreate(WithInternalCall(ctx), "users", record))

	// A zero value does not count as a change on create.
	err = engine.CheckTypesCreate(WithActor(ctx, userID), "users",
		Record{"name": "eve", "administrator": false})
	assert.NoError(t, err)
}

// TestCheckTypesImmutable tests write-once semantics
func TestCheckTypesImmutable(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	// Setting the field for the first time is allowed.
	err := engine.CheckTypesPatch(ctx, "ships",
		Record{"registry_no": "R1"}, Record{"_id": "s1", "name": "Dawn"})
	assert.NoError(t, err)

	// Re-sending the same value is allowed.
	err = engine.CheckTypesPatch(ctx, "ships",
		Record{"registry_no": "R1"}, Record{"_id": "s1", "registry_no": "R1"})
	assert.NoError(t, err)

	// Changing a written value is not, administrators included.
	err = engine.CheckTypesPatch(ctx, "ships",
		Record{"registry_no": "R2"}, Record{"_id": "s1", "registry_no": "R1"})
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))
}

// TestCheckTypesImmutableObject tests write-once semantics on object values
func TestCheckTypesImmutableObject(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := WithInternalCall(context.Background())
	original := Record{"_id": "s1", "name": "Dawn",
		"cargo_manifest": map[string]any{"hold": "grain"}}

	// Re-sending an equal object is allowed.
	err := engine.CheckTypesUpdate(ctx, "ships",
		Record{"name": "Dawn", "cargo_manifest": map[string]any{"hold": "grain"}}, original)
	assert.NoError(t, err)

	// Changing a written object is not.
	err = engine.CheckTypesUpdate(ctx, "ships",
		Record{"name": "Dawn", "cargo_manifest": map[string]any{"hold": "ore"}}, original)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))

	err = engine.CheckTypesPatch(ctx, "ships",
		Record{"cargo_manifest": map[string]any{"hold": "ore"}}, original)
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))
}

// TestCheckTypesSubmodel tests nested schema recursion
func TestCheckTypesSubmodel(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	err := engine.CheckTypesCreate(ctx, "ships",
		Record{"name": "Dawn", "berth": map[string]any{"dock": "D1", "position": 3}})
	assert.NoError(t, err)

	t.Run("Non-object value", func(t *testing.T) {
		err := engine.CheckTypesCreate(ctx, "ships",
			Record{"name": "Dawn", "berth": "dock D1"})
		require.Error(t, err)
		assert.True(t, IsValidationFailed(err))
	})

	t.Run("Nested type mismatch", func(t *testing.T) {
		err := engine.CheckTypesCreate(ctx, "ships",
			Record{"name": "Dawn", "berth": map[string]any{"dock": 5}})
		require.Error(t, err)
		assert.True(t, IsValidationFailed(err))
	})

	t.Run("Nested required field missing", func(t *testing.T) {
		err := engine.CheckTypesCreate(ctx, "ships",
			Record{"name": "Dawn", "berth": map[string]any{"position": 3}})
		require.Error(t, err)
		assert.True(t, IsValidationFailed(err))
	})

	t.Run("Nested undocumented field", func(t *testing.T) {
		err := engine.CheckTypesCreate(ctx, "ships",
			Record{"name": "Dawn", "berth": map[string]any{"dock": "D1", "extra": 1}})
		require.Error(t, err)
		assert.True(t, IsValidationFailed(err))
	})
}

// TestCheckTypesReferences tests foreign-key existence and authority
func TestCheckTypesReferences(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	t.Run("Missing target", func(t *testing.T) {
		err := engine.CheckTypesCreate(WithInternalCall(ctx), "ships",
			Record{"name": "Dawn", "partner_id": "missing"})
		require.Error(t, err)
		assert.True(t, IsReference(err))
	})

	t.Run("Target authority", func(t *testing.T) {
		aliceID := seedUser(t, store, "alice")
		bobID := seedUser(t, store, "bob")
		record := Record{"name": "Dawn", "captain_id": bobID}

		err := engine.CheckTypesCreate(WithActor(ctx, aliceID), "ships", record)
		require.Error(t, err)
		assert.True(t, IsAccessDenied(err))

		// Internal calls skip the authority requirement.
		assert.NoError(t, engine.CheckTypesCreate(WithInternalCall(ctx), "ships", record))

		seedGrant(t, engine, aliceID, "users", bobID, PrivilegeRead)
		assert.NoError(t, engine.CheckTypesCreate(WithActor(ctx, aliceID), "ships", record))
	})
}

// TestCheckTypesRecursiveReference tests chain validation on foreign keys
func TestCheckTypesRecursiveReference(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	a := seedRecord(t, store, "crates", Record{"label": "a"})
	b := seedRecord(t, store, "crates", Record{"label": "b", "parent_id": a})
	assert.NoError(t, engine.CheckTypesCreate(ctx, "crates",
		Record{"label": "c", "parent_id": b}))

	_, err := store.Patch(ctx, "crates", a, Record{"parent_id": b})
	require.NoError(t, err)
	err = engine.CheckTypesCreate(ctx, "crates", Record{"label": "c", "parent_id": b})
	require.Error(t, err)
	assert.True(t, IsReference(err))
}

// TestCheckTypesUniqueness tests uniqueness rules
func TestCheckTypesUniqueness(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	holderID := seedRecord(t, store, "partners", Record{"name": "Acme", "code": "acme"})

	err := engine.CheckTypesCreate(ctx, "partners", Record{"name": "Copy", "code": "acme"})
	require.Error(t, err)
	assert.True(t, IsValidationFailed(err))

	// The holder itself may keep its value on patch.
	err = engine.CheckTypesPatch(ctx, "partners", Record{"code": "acme"},
		Record{"_id": holderID, "name": "Acme", "code": "acme"})
	assert.NoError(t, err)

	// Another record may not take it.
	err = engine.CheckTypesPatch(ctx, "partners", Record{"code": "acme"},
		Record{"_id": "other", "name": "Other", "code": "oth"})
	require.Error(t, err)
	assert.True(t, IsValidationFailed(err))

	// Soft-destroyed holders do not conflict.
	seedRecord(t, store, "partners", Record{"name": "Gone", "code": "gone", "destroyed_at": time.Now()})
	assert.NoError(t, engine.CheckTypesCreate(ctx, "partners", Record{"name": "New", "code": "gone"}))
}

// TestCheckTypesSubmodelUniqueness tests that uniqueness rules stay with
// their own class when the schema is nested as a submodel
func TestCheckTypesSubmodelUniqueness(t *testing.T) {
	cfg := newTestConfig()
	store := NewMemoryStore(cfg.IDField)
	ctx := WithInternalCall(context.Background())

	engine, err := NewEngine(cfg, store)
	require.NoError(t, err)

	// The rule binds standalone berth writes.
	seedRecord(t, store, "berths", Record{"dock": "D1"})
	err = engine.CheckTypesCreate(ctx, "berths", Record{"dock": "D1"})
	require.Error(t, err)
	assert.True(t, IsValidationFailed(err))

	// Nested under a ship the berth rule is not evaluated at all; no
	// uniqueness query ever hits the parent class.
	guarded, err := NewEngine(newTestConfig(),
		&failingStore{RecordStore: store, failClass: "ships"})
	require.NoError(t, err)
	assert.NoError(t, guarded.CheckTypesCreate(ctx, "ships",
		Record{"name": "Dawn", "berth": map[string]any{"dock": "D1"}}))
}

// TestCheckTypesValidationRules tests the rule sweep over schema fields
func TestCheckTypesValidationRules(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	// Required fields are enforced even when absent from the input.
	err := engine.CheckTypesCreate(ctx, "ships", Record{"tonnage": 100})
	require.Error(t, err)
	assert.True(t, IsValidationFailed(err))
	var detailed *Error
	require.True(t, errors.As(err, &detailed))
	assert.Equal(t, "name", detailed.Field)
	assert.Equal(t, "max:255|required", detailed.Rule)

	// Patch operations only validate fields they carry.
	assert.NoError(t, engine.CheckTypesPatch(ctx, "ships",
		Record{"tonnage": 100}, Record{"_id": "s1", "name": "Dawn"}))

	// Boundary values pass; one past fails.
	assert.NoError(t, engine.CheckTypesCreate(ctx, "ships",
		Record{"name": "Dawn", "tonnage": 500000}))
	err = engine.CheckTypesCreate(ctx, "ships",
		Record{"name": "Dawn", "tonnage": 500001})
	require.Error(t, err)
	assert.True(t, IsValidationFailed(err))
}

// TestCheckTypesOverlaySide tests overlay-side validation
func TestCheckTypesOverlaySide(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	// The overlay side never demands base fields.
	assert.NoError(t, engine.CheckTypesCreateOverlay(ctx, "ships", Record{"notes": "fine"}))

	err := engine.CheckTypesCreateOverlay(ctx, "ships",
		Record{"notes": strings.Repeat("x", 1001)})
	require.Error(t, err)
	assert.True(t, IsValidationFailed(err))
}

// TestCheckTypesQuietMode tests error collapsing
func TestCheckTypesQuietMode(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := WithInternalCall(context.Background())

	err := engine.CheckTypes(ctx, "ships", Record{"name": 42},
		CheckOptions{Operation: OpCreate, Exclusive: true})
	require.Error(t, err)
	assert.True(t, IsValidationFailed(err))
	var detailed *Error
	assert.False(t, errors.As(err, &detailed), "quiet mode strips detail")

	assert.False(t, engine.CheckTypesQuiet(ctx, "ships", Record{"name": 42},
		CheckOptions{Operation: OpCreate}))
	assert.True(t, engine.CheckTypesQuiet(ctx, "ships", Record{"name": "Dawn"},
		CheckOptions{Operation: OpCreate}))
}

// TestCheckTypesUnknownClass tests the configuration error path
func TestCheckTypesUnknownClass(t *testing.T) {
	engine, _ := newTestEngine(t)
	err := engine.CheckTypesCreate(context.Background(), "missing", Record{"a": 1})
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
}
