package reprivileger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfigDefaults tests the default field and class names
func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, "_id", cfg.IDField)
	assert.Equal(t, "users", cfg.UserClass)
	assert.Equal(t, "authorities", cfg.AuthorityClass)
	assert.Equal(t, "authority_audit_log", cfg.AuditClass)
	assert.NotNil(t, cfg.Schemas)
	assert.NotNil(t, cfg.Transit)
}

// TestConfigBuilder tests the fluent class definition API
func TestConfigBuilder(t *testing.T) {
	cfg := NewConfig()
	cfg.DefineClass("partners").
		Field("name", FieldString).Validation("max:255|required").
		Field("code", FieldString).Immutable().
		Unique("code")
	cfg.DefineClass("ships").
		Field("name", FieldString).
		Field("partner_id", FieldString).Target("partners", PrivilegeRead).
		Field("notes", FieldString).Overlay().
		OverlayClass("ship_overlays").
		Transit("partner_id", "partners", PrivilegeWrite)

	partners := cfg.Schema("partners")
	require.NotNil(t, partners)
	assert.Equal(t, "max:255|required", partners.Fields["name"].Validation)
	assert.True(t, partners.Fields["code"].Immutable)
	require.Len(t, partners.Rules, 1)
	assert.Equal(t, []string{"code"}, partners.Rules[0].UniqueFields)

	ships := cfg.Schema("ships")
	require.NotNil(t, ships)
	assert.Equal(t, "partners", ships.Fields["partner_id"].TargetClass)
	assert.Equal(t, PrivilegeRead, ships.Fields["partner_id"].TargetAuthority)
	assert.True(t, ships.Fields["notes"].Overlay)
	assert.Equal(t, "ship_overlays", ships.OverlayClass)

	require.Len(t, cfg.Transit["ships"], 1)
	assert.Equal(t, TransitRule{Key: "partner_id", Class: "partners", Mask: PrivilegeWrite}, cfg.Transit["ships"][0])

	assert.Nil(t, cfg.Schema("missing"))
}

// TestConfigValidate tests the configuration invariants
func TestConfigValidate(t *testing.T) {
	t.Run("Valid test config", func(t *testing.T) {
		assert.NoError(t, newTestConfig().Validate())
	})

	t.Run("Schema with no fields", func(t *testing.T) {
		cfg := NewConfig()
		cfg.Schemas["empty"] = &Schema{Name: "empty"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, IsConfiguration(err))
	})

	t.Run("Undefined named submodel", func(t *testing.T) {
		cfg := NewConfig()
		cfg.DefineClass("ships").
			Field("berth", FieldObject).Submodel("missing")
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, IsConfiguration(err))
	})

	t.Run("Field both submodel and foreign key", func(t *testing.T) {
		cfg := NewConfig()
		cfg.DefineClass("berths").Field("dock", FieldString)
		cfg.DefineClass("ships").
			Field("berth", FieldObject).Submodel("berths").Target("berths")
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, IsConfiguration(err))
	})

	t.Run("Submodel tree cycle", func(t *testing.T) {
		cfg := NewConfig()
		cfg.DefineClass("nodes").
			Field("label", FieldString).
			Field("child", FieldObject).Submodel("nodes")
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, IsConfiguration(err))
	})

	t.Run("Foreign key to undefined class", func(t *testing.T) {
		cfg := NewConfig()
		cfg.DefineClass("ships").
			Field("partner_id", FieldString).Target("missing")
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, IsConfiguration(err))
	})

	t.Run("Transit rule on undefined class", func(t *testing.T) {
		cfg := NewConfig()
		cfg.DefineClass("partners").Field("name", FieldString)
		cfg.Transit["ships"] = []TransitRule{{Key: "partner_id", Class: "partners"}}
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, IsConfiguration(err))
	})

	t.Run("Transit rule to undefined class", func(t *testing.T) {
		cfg := NewConfig()
		cfg.DefineClass("ships").
			Field("partner_id", FieldString).
			Transit("partner_id", "missing")
		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, IsConfiguration(err))
	})
}

// TestFieldTypeMatches tests runtime type conformance
func TestFieldTypeMatches(t *testing.T) {
	tests := []struct {
		name     string
		kind     FieldType
		value    any
		expected bool
	}{
		{"String matches", FieldString, "x", true},
		{"String rejects number", FieldString, 1, false},
		{"Number matches int", FieldNumber, 42, true},
		{"Number matches float", FieldNumber, 4.2, true},
		{"Number matches uint32", FieldNumber, uint32(7), true},
		{"Number rejects string", FieldNumber, "42", false},
		{"Boolean matches", FieldBoolean, true, true},
		{"Boolean rejects number", FieldBoolean, 1, false},
		{"Date matches string", FieldDate, "2024-01-01", true},
		{"Date matches time", FieldDate, time.Now(), true},
		{"Date rejects number", FieldDate, 1700000000, false},
		{"Object matches map", FieldObject, map[string]any{"a": 1}, true},
		{"Object rejects string", FieldObject, "{}", false},
		{"Unknown type matches nothing", FieldType("blob"), "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.matches(tt.value))
		})
	}
}

// TestToNumber tests wire numeric normalization
func TestToNumber(t *testing.T) {
	for _, value := range []any{float64(3), float32(3), int(3), int8(3), int16(3), int32(3), int64(3), uint(3), uint8(3), uint16(3), uint32(3), uint64(3), Privilege(3)} {
		n, ok := toNumber(value)
		assert.True(t, ok, "%T should normalize", value)
		assert.Equal(t, float64(3), n, "%T", value)
	}
	_, ok := toNumber("3")
	assert.False(t, ok)
	_, ok = toNumber(nil)
	assert.False(t, ok)
}
