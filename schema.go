package reprivileger

import (
	"errors"
	"fmt"
	"time"
)

// Record is a flat field/value map as exchanged with the Record Store.
type Record = map[string]any

// Query is a flat field/value map used for Record Store lookups.
// A nil value means "field is null or absent"; by convention
// {"destroyed_at": nil} selects active records only.
type Query = map[string]any

// FieldType is the declared primitive kind of a schema field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldDate    FieldType = "date"
	FieldObject  FieldType = "object"
	FieldBoolean FieldType = "boolean"
)

// matches reports whether a runtime value conforms to the declared kind.
func (t FieldType) matches(value any) bool {
	switch t {
	case FieldString:
		_, ok := value.(string)
		return ok
	case FieldNumber:
		_, ok := toNumber(value)
		return ok
	case FieldBoolean:
		_, ok := value.(bool)
		return ok
	case FieldDate:
		switch value.(type) {
		case string, time.Time:
			return true
		}
		return false
	case FieldObject:
		_, ok := value.(map[string]any)
		return ok
	}
	return false
}

// toNumber normalizes the numeric types a flat wire record may carry.
func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case Privilege:
		return float64(v), true
	}
	return 0, false
}

// FieldDescriptor describes one schema field. All behavioral flags are
// explicit members; absence of a flag means the default behavior.
// Submodel/SubmodelInline and TargetClass are mutually exclusive.
type FieldDescriptor struct {
	Type       FieldType
	Validation string // pipe-delimited rule string, e.g. "max:255|required"

	PrimaryKey        bool
	ReadOnly          bool // not user-writable
	AdministratorOnly bool
	Immutable         bool
	Computed          bool
	Label             bool // display-only field
	Overlay           bool // belongs to the overlay record, not the base
	AllowNull         bool

	// Computation is the optional formula tree for computed fields. The
	// engine never evaluates it; it rejects computed fields in writable
	// input and leaves evaluation to the host's read path.
	Computation map[string]any

	// Submodel names a nested schema defined in the Config; SubmodelInline
	// embeds one directly.
	Submodel       string
	SubmodelInline *Schema

	// TargetClass marks the field as a foreign key into another class.
	// TargetAuthority, when nonzero, is the minimum privilege the acting
	// user must hold on the referent.
	TargetClass     string
	TargetAuthority Privilege

	// RecursiveReferenceCheck enables cycle/depth validation for
	// self-referential chain fields.
	RecursiveReferenceCheck bool
}

// SchemaRule is a cross-field constraint on a class, currently uniqueness
// over a field set.
type SchemaRule struct {
	UniqueFields []string
}

// Schema is a named collection of field descriptors. Schemas form a finite
// tree via submodels; keeping that tree acyclic is a configuration
// invariant, checked by Config.Validate.
type Schema struct {
	Name         string
	Fields       map[string]*FieldDescriptor
	OverlayClass string // class holding this schema's overlay records
	Rules        []SchemaRule
}

// TransitRule states that the field named Key on a record of the source
// class points to a parent record of class Class, and that privilege held
// on the parent also applies to the source record, minus the non-transitive
// bit and optionally AND-ed with Mask. A zero Mask means no masking.
type TransitRule struct {
	Key   string
	Class string
	Mask  Privilege
}

// Config is the process-wide engine configuration. It is supplied once by
// the host at initialization and must be treated as immutable afterwards.
type Config struct {
	// IDField is the primary-key field name shared by all classes.
	// Defaults to "_id".
	IDField string

	// Schemas maps class name to schema.
	Schemas map[string]*Schema

	// Transit maps class name to its privilege transit rules.
	Transit map[string][]TransitRule

	// UserClass is the class holding user records. Defaults to "users".
	UserClass string

	// AdministratorFlagField, when set, names the boolean field on a user
	// record that marks an administrator.
	AdministratorFlagField string

	// SelfAccess, when nonzero, is the privilege every user holds over
	// their own user record.
	SelfAccess Privilege

	// AuthorityClass is the class holding authority grant records.
	// Defaults to "authorities".
	AuthorityClass string

	// AuditClass is the class holding authority audit log records.
	// Defaults to "authority_audit_log".
	AuditClass string
}

// NewConfig creates a Config with default field names.
func NewConfig() *Config {
	return &Config{
		IDField:        "_id",
		Schemas:        make(map[string]*Schema),
		Transit:        make(map[string][]TransitRule),
		UserClass:      "users",
		AuthorityClass: "authorities",
		AuditClass:     "authority_audit_log",
	}
}

// Schema returns the schema for a class, or nil if the class is not defined.
func (c *Config) Schema(class string) *Schema {
	return c.Schemas[class]
}

// resolveSubmodel returns the nested schema a field descriptor refers to.
func (c *Config) resolveSubmodel(fd *FieldDescriptor) *Schema {
	if fd.SubmodelInline != nil {
		return fd.SubmodelInline
	}
	if fd.Submodel != "" {
		return c.Schemas[fd.Submodel]
	}
	return nil
}

// Validate checks the configuration invariants: every schema has fields,
// named submodels resolve, submodel and target-class markers are mutually
// exclusive, the submodel tree is finite, and transit rules reference
// defined classes.
func (c *Config) Validate() error {
	for class, schema := range c.Schemas {
		if schema == nil || len(schema.Fields) == 0 {
			return NewError(ErrConfiguration, "schema has no fields").WithClass(class)
		}
		if err := c.validateSchema(schema, map[*Schema]bool{}); err != nil {
			var e *Error
			if errors.As(err, &e) && e.Class == "" {
				e.WithClass(class)
			}
			return err
		}
	}
	for class, rules := range c.Transit {
		if c.Schemas[class] == nil {
			return NewError(ErrConfiguration, "transit rules on undefined class").WithClass(class)
		}
		for _, rule := range rules {
			if rule.Key == "" || rule.Class == "" {
				return NewError(ErrConfiguration, "transit rule missing key or class").WithClass(class)
			}
			if c.Schemas[rule.Class] == nil {
				return NewError(ErrConfiguration,
					fmt.Sprintf("transit rule %q references undefined class %q", rule.Key, rule.Class)).
					WithClass(class)
			}
		}
	}
	return nil
}

func (c *Config) validateSchema(schema *Schema, seen map[*Schema]bool) error {
	if seen[schema] {
		return NewError(ErrConfiguration, "submodel tree cycles through schema "+schema.Name)
	}
	seen[schema] = true
	defer delete(seen, schema)

	for name, fd := range schema.Fields {
		if fd == nil {
			return NewError(ErrConfiguration, "nil field descriptor").WithField(name)
		}
		hasSubmodel := fd.Submodel != "" || fd.SubmodelInline != nil
		if hasSubmodel && fd.TargetClass != "" {
			return NewError(ErrConfiguration, "field is both submodel and foreign key").WithField(name)
		}
		if fd.Submodel != "" && fd.SubmodelInline != nil {
			return NewError(ErrConfiguration, "field names a submodel and embeds one").WithField(name)
		}
		if hasSubmodel {
			nested := c.resolveSubmodel(fd)
			if nested == nil {
				return NewError(ErrConfiguration,
					fmt.Sprintf("submodel %q is not defined", fd.Submodel)).WithField(name)
			}
			if err := c.validateSchema(nested, seen); err != nil {
				return err
			}
		}
		if fd.TargetClass != "" && c.Schemas[fd.TargetClass] == nil {
			return NewError(ErrConfiguration,
				fmt.Sprintf("foreign key targets undefined class %q", fd.TargetClass)).WithField(name)
		}
	}
	return nil
}

// ============================================================================
// FLUENT CONFIGURATION BUILDER
// ============================================================================

// DefineClass starts defining the schema for a class.
// Returns a ClassBuilder for fluent configuration.
//
// Example:
//
//	cfg := reprivileger.NewConfig()
//	cfg.DefineClass("ships").
//	    Field("name", reprivileger.FieldString).Validation("max:255|required").
//	    Field("owner_id", reprivileger.FieldString).Target("partners", reprivileger.PrivilegeRead).
//	    Transit("owner_id", "partners")
func (c *Config) DefineClass(name string) *ClassBuilder {
	schema := &Schema{
		Name:   name,
		Fields: make(map[string]*FieldDescriptor),
	}
	c.Schemas[name] = schema
	return &ClassBuilder{config: c, schema: schema}
}

// ClassBuilder accumulates field and transit definitions for one class.
type ClassBuilder struct {
	config *Config
	schema *Schema
}

// Field starts defining a new field within this class.
func (b *ClassBuilder) Field(name string, kind FieldType) *FieldBuilder {
	fd := &FieldDescriptor{Type: kind}
	b.schema.Fields[name] = fd
	return &FieldBuilder{class: b, field: fd}
}

// OverlayClass names the class that holds this schema's overlay records.
func (b *ClassBuilder) OverlayClass(name string) *ClassBuilder {
	b.schema.OverlayClass = name
	return b
}

// Unique adds a uniqueness rule over a field set.
func (b *ClassBuilder) Unique(fields ...string) *ClassBuilder {
	b.schema.Rules = append(b.schema.Rules, SchemaRule{UniqueFields: fields})
	return b
}

// Transit attaches a privilege transit rule to this class: privilege held on
// the record referenced by the Key field (of the given class) also applies
// here, minus the non-transitive bit, AND-ed with each mask if given.
func (b *ClassBuilder) Transit(key, class string, mask ...Privilege) *ClassBuilder {
	rule := TransitRule{Key: key, Class: class}
	if len(mask) > 0 {
		rule.Mask = mask[0]
	}
	b.config.Transit[b.schema.Name] = append(b.config.Transit[b.schema.Name], rule)
	return b
}

// DefineClass continues defining classes on the config (fluent API).
func (b *ClassBuilder) DefineClass(name string) *ClassBuilder {
	return b.config.DefineClass(name)
}

// FieldBuilder configures a single field descriptor.
type FieldBuilder struct {
	class *ClassBuilder
	field *FieldDescriptor
}

// Validation sets the pipe-delimited validation rule string.
func (fb *FieldBuilder) Validation(rules string) *FieldBuilder {
	fb.field.Validation = rules
	return fb
}

// PrimaryKey marks the field as the class primary key.
func (fb *FieldBuilder) PrimaryKey() *FieldBuilder {
	fb.field.PrimaryKey = true
	return fb
}

// ReadOnly marks the field as not user-writable.
func (fb *FieldBuilder) ReadOnly() *FieldBuilder {
	fb.field.ReadOnly = true
	return fb
}

// AdministratorOnly restricts changes to administrators.
func (fb *FieldBuilder) AdministratorOnly() *FieldBuilder {
	fb.field.AdministratorOnly = true
	return fb
}

// Immutable forbids changing the field once written, for everyone.
func (fb *FieldBuilder) Immutable() *FieldBuilder {
	fb.field.Immutable = true
	return fb
}

// Computed marks the field as server-computed, with an optional formula tree.
func (fb *FieldBuilder) Computed(formula ...map[string]any) *FieldBuilder {
	fb.field.Computed = true
	if len(formula) > 0 {
		fb.field.Computation = formula[0]
	}
	return fb
}

// Label marks the field as display-only.
func (fb *FieldBuilder) Label() *FieldBuilder {
	fb.field.Label = true
	return fb
}

// Overlay assigns the field to the overlay record instead of the base.
func (fb *FieldBuilder) Overlay() *FieldBuilder {
	fb.field.Overlay = true
	return fb
}

// AllowNull permits an explicit null value regardless of declared type.
func (fb *FieldBuilder) AllowNull() *FieldBuilder {
	fb.field.AllowNull = true
	return fb
}

// Submodel nests a named schema in this field.
func (fb *FieldBuilder) Submodel(name string) *FieldBuilder {
	fb.field.Submodel = name
	return fb
}

// SubmodelInline embeds a schema directly in this field.
func (fb *FieldBuilder) SubmodelInline(schema *Schema) *FieldBuilder {
	fb.field.SubmodelInline = schema
	return fb
}

// Target marks the field as a foreign key, optionally requiring the acting
// user to hold the given privilege bits on the referent.
func (fb *FieldBuilder) Target(class string, authority ...Privilege) *FieldBuilder {
	fb.field.TargetClass = class
	if len(authority) > 0 {
		fb.field.TargetAuthority = authority[0]
	}
	return fb
}

// RecursiveCheck enables cycle/depth validation for the chain this foreign
// key forms.
func (fb *FieldBuilder) RecursiveCheck() *FieldBuilder {
	fb.field.RecursiveReferenceCheck = true
	return fb
}

// Field continues defining fields on the class (fluent API).
func (fb *FieldBuilder) Field(name string, kind FieldType) *FieldBuilder {
	return fb.class.Field(name, kind)
}

// OverlayClass continues class configuration (fluent API).
func (fb *FieldBuilder) OverlayClass(name string) *ClassBuilder {
	return fb.class.OverlayClass(name)
}

// Unique continues class configuration (fluent API).
func (fb *FieldBuilder) Unique(fields ...string) *ClassBuilder {
	return fb.class.Unique(fields...)
}

// Transit continues class configuration (fluent API).
func (fb *FieldBuilder) Transit(key, class string, mask ...Privilege) *ClassBuilder {
	return fb.class.Transit(key, class, mask...)
}

// DefineClass continues defining classes on the config (fluent API).
func (fb *FieldBuilder) DefineClass(name string) *ClassBuilder {
	return fb.class.config.DefineClass(name)
}
