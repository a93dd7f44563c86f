package reprivileger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Operation is the kind of write being validated.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpPatch  Operation = "patch"
)

// CheckOptions controls one Schema Validator invocation.
type CheckOptions struct {
	// Operation selects create/update/patch semantics for the change
	// detection rules.
	Operation Operation

	// Original is the previous record snapshot, required for update and
	// patch operations.
	Original Record

	// Exclusive rejects input fields the schema does not declare.
	Exclusive bool

	// Dramatic surfaces the first descriptive error; otherwise failures
	// collapse to the bare taxonomy sentinel with no detail.
	Dramatic bool

	// OverlayOnly validates the overlay side of the split instead of the
	// base side. Only meaningful for schemas with an overlay class.
	OverlayOnly bool
}

// fieldOverrides carries restrictive flags inherited into submodels. A flag
// set on a parent submodel field applies to every nested field that does
// not already carry it.
type fieldOverrides struct {
	readOnly  bool
	adminOnly bool
	computed  bool
	label     bool
	overlay   bool
}

func (o fieldOverrides) merge(fd *FieldDescriptor) fieldOverrides {
	return fieldOverrides{
		readOnly:  o.readOnly || fd.ReadOnly,
		adminOnly: o.adminOnly || fd.AdministratorOnly,
		computed:  o.computed || fd.Computed,
		label:     o.label || fd.Label,
		overlay:   o.overlay || fd.Overlay,
	}
}

// CheckTypes validates a proposed write against the class schema: declared
// types, writability, administrator-only and immutable rules, computed and
// label protection, submodel recursion, foreign-key existence and authority,
// recursive reference depth, field validation rules, and uniqueness rules.
//
// The acting user is read from the context; an internal call bypasses the
// administrator-only restriction. Independent foreign-key, authority and
// recursion checks run concurrently; the aggregate outcome is the AND of
// every check, reported deterministically in schema field order.
func (e *Engine) CheckTypes(ctx context.Context, class string, record Record, opts CheckOptions) error {
	schema := e.config.Schema(class)
	if schema == nil {
		return NewError(ErrConfiguration, "no schema for class").WithClass(class)
	}
	err := e.checkSchema(ctx, class, schema, record, opts, fieldOverrides{}, schema.OverlayClass != "", false)
	if err != nil && !opts.Dramatic {
		var detailed *Error
		if errors.As(err, &detailed) {
			return detailed.Err
		}
	}
	return err
}

// CheckTypesQuiet is CheckTypes collapsed to a pass/fail outcome for
// best-effort call sites.
func (e *Engine) CheckTypesQuiet(ctx context.Context, class string, record Record, opts CheckOptions) bool {
	opts.Dramatic = false
	return e.CheckTypes(ctx, class, record, opts) == nil
}

func (e *Engine) checkSchema(ctx context.Context, class string, schema *Schema, record Record, opts CheckOptions, ov fieldOverrides, split, nested bool) error {
	actor := ActorID(ctx)
	internal := IsInternalCall(ctx)

	// The administrator lookup hits the store; resolve it at most once.
	var (
		adminOnce sync.Once
		admin     bool
		adminErr  error
	)
	isAdmin := func() (bool, error) {
		adminOnce.Do(func() {
			if internal {
				admin = true
				return
			}
			admin, adminErr = e.UserIsAdministrator(ctx, actor)
		})
		return admin, adminErr
	}

	var asyncChecks []asyncCheck

	names := make([]string, 0, len(record))
	for name := range record {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := record[name]
		fd, ok := schema.Fields[name]
		if !ok {
			if opts.Exclusive {
				return NewError(ErrValidationFailed, "undocumented field").WithClass(class).WithField(name)
			}
			continue
		}
		eff := ov.merge(fd)
		isNull := value == nil

		// 1. Declared type must match the runtime type.
		if isNull {
			if !fd.AllowNull {
				return NewError(ErrValidationFailed, "null value not allowed").WithClass(class).WithField(name)
			}
		} else if fd.Submodel == "" && fd.SubmodelInline == nil && !fd.Type.matches(value) {
			return NewError(ErrValidationFailed,
				fmt.Sprintf("value is not of type %s", fd.Type)).WithClass(class).WithField(name)
		}

		// 2. Unwritable fields reject any input.
		if eff.readOnly {
			return NewError(ErrAccessDenied, "field is not user-writable").WithClass(class).WithField(name)
		}

		// 5. Computed and label fields are server- or display-only.
		if eff.computed {
			return NewError(ErrAccessDenied, "computed field in writable input").WithClass(class).WithField(name)
		}
		if eff.label {
			return NewError(ErrAccessDenied, "label field in writable input").WithClass(class).WithField(name)
		}

		// 3. Administrator-only fields reject changes by non-administrators.
		if eff.adminOnly && valueChanged(opts, name, value) {
			ok, err := isAdmin()
			if err != nil {
				return err
			}
			if !ok {
				return NewError(ErrAccessDenied, "administrator-only field").
					WithClass(class).WithField(name).WithActor(actor)
			}
		}

		// 4. Immutable fields never change once written, administrators
		// included.
		if fd.Immutable && (opts.Operation == OpUpdate || opts.Operation == OpPatch) {
			prior := opts.Original[name]
			if prior != nil && !looseEqual(value, prior) {
				return NewError(ErrAccessDenied, "immutable field").WithClass(class).WithField(name)
			}
		}

		// 6. Submodels recurse with inherited overrides.
		if sub := e.config.resolveSubmodel(fd); sub != nil {
			if isNull {
				continue
			}
			nestedRecord, ok := value.(map[string]any)
			if !ok {
				return NewError(ErrValidationFailed, "submodel value is not an object").
					WithClass(class).WithField(name)
			}
			nestedOpts := opts
			nestedOpts.Original, _ = opts.Original[name].(map[string]any)
			if err := e.checkSchema(ctx, class, sub, nestedRecord, nestedOpts, eff, split, true); err != nil {
				return err
			}
			continue
		}

		// 7. Foreign keys are checked asynchronously: target existence,
		// required authority on the referent, and chain depth.
		if fd.TargetClass != "" && !isNull {
			id, ok := value.(string)
			if !ok || id == "" {
				continue
			}
			field := name
			descriptor := fd
			asyncChecks = append(asyncChecks, func(ctx context.Context) error {
				return e.checkReference(ctx, class, field, descriptor, id, actor)
			})
		}
	}

	// Uniqueness rules consult the store; run them with the reference
	// checks. They are class-level constraints, so only the top-level
	// base-side invocation evaluates them: a submodel fragment never has a
	// class of its own to query, and the overlay side would query base
	// fields it does not carry.
	if !nested && !opts.OverlayOnly {
		for _, rule := range schema.Rules {
			if len(rule.UniqueFields) == 0 {
				continue
			}
			r := rule
			asyncChecks = append(asyncChecks, func(ctx context.Context) error {
				return e.checkUniqueness(ctx, class, r, record, opts)
			})
		}
	}

	if err := runChecks(ctx, asyncChecks); err != nil {
		return err
	}

	// Validation rule sweep over every schema field, including fields
	// absent from the input, to catch missing required values. Patch
	// operations only validate fields they carry; overlay-split schemas
	// only validate their own side.
	ruleNames := make([]string, 0, len(schema.Fields))
	for name := range schema.Fields {
		ruleNames = append(ruleNames, name)
	}
	sort.Strings(ruleNames)
	for _, name := range ruleNames {
		fd := schema.Fields[name]
		if fd.Validation == "" {
			continue
		}
		value, present := record[name]
		if opts.Operation == OpPatch && !present {
			continue
		}
		if split && ov.merge(fd).overlay != opts.OverlayOnly {
			continue
		}
		if !ValidateField(fd.Validation, value) {
			return NewError(ErrValidationFailed, "validation rule failed").
				WithClass(class).WithField(name).WithRule(fd.Validation)
		}
	}
	return nil
}

// asyncCheck is one store-touching check fanned out by the validator.
type asyncCheck func(ctx context.Context) error

// runChecks fans the collected checks out concurrently and reduces them to
// the first failure in declaration order, so the outcome does not depend on
// completion order.
func runChecks(ctx context.Context, checks []asyncCheck) error {
	if len(checks) == 0 {
		return nil
	}
	errs := make([]error, len(checks))
	var wg sync.WaitGroup
	wg.Add(len(checks))
	for i, run := range checks {
		go func(i int, run asyncCheck) {
			defer wg.Done()
			errs[i] = run(ctx)
		}(i, run)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkReference(ctx context.Context, class, field string, fd *FieldDescriptor, id, actor string) error {
	if _, err := e.store.Get(ctx, fd.TargetClass, id); err != nil {
		if IsNotFound(err) {
			return NewError(ErrReference, "missing reference target").
				WithClass(class).WithField(field)
		}
		return wrapStoreErr(err, "reference target lookup failed")
	}
	if fd.TargetAuthority != 0 && actor != "" {
		level, err := e.AccessLevelWithUser(ctx, actor, fd.TargetClass, id)
		if err != nil {
			return err
		}
		if !level.Has(fd.TargetAuthority) {
			return NewError(ErrAccessDenied, "insufficient authority on reference target").
				WithClass(class).WithField(field).WithActor(actor)
		}
	}
	if fd.RecursiveReferenceCheck {
		if _, err := e.CheckRecursiveDocumentDepth(ctx, fd.TargetClass, id, field, nil); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkUniqueness(ctx context.Context, class string, rule SchemaRule, record Record, opts CheckOptions) error {
	query := Query{"destroyed_at": nil}
	for _, field := range rule.UniqueFields {
		value, ok := record[field]
		if !ok {
			value = opts.Original[field]
		}
		query[field] = value
	}
	matches, err := e.store.Find(ctx, class, query)
	if err != nil {
		return wrapStoreErr(err, "uniqueness lookup failed")
	}
	selfID, _ := opts.Original[e.config.IDField].(string)
	for _, match := range matches {
		if id, _ := match[e.config.IDField].(string); id != "" && id == selfID {
			continue
		}
		return NewError(ErrValidationFailed,
			fmt.Sprintf("uniqueness rule over %v violated", rule.UniqueFields)).WithClass(class)
	}
	return nil
}

// valueChanged reports whether the field counts as changed for the
// administrator-only rule: any value on patch, a differing value on update,
// a non-default value on create.
func valueChanged(opts CheckOptions, name string, value any) bool {
	switch opts.Operation {
	case OpPatch:
		return true
	case OpUpdate:
		return !looseEqual(value, opts.Original[name])
	default:
		return !isZeroValue(value)
	}
}

func isZeroValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	case map[string]any:
		return len(v) == 0
	}
	if n, ok := toNumber(value); ok {
		return n == 0
	}
	return false
}

// ============================================================================
// OPERATION SPECIALIZATIONS
// ============================================================================

// CheckTypesCreate validates a proposed create of a base record.
func (e *Engine) CheckTypesCreate(ctx context.Context, class string, record Record) error {
	return e.CheckTypes(ctx, class, record, CheckOptions{Operation: OpCreate, Exclusive: true, Dramatic: true})
}

// CheckTypesUpdate validates a proposed full update of a base record.
func (e *Engine) CheckTypesUpdate(ctx context.Context, class string, record, original Record) error {
	return e.CheckTypes(ctx, class, record, CheckOptions{Operation: OpUpdate, Original: original, Exclusive: true, Dramatic: true})
}

// CheckTypesPatch validates a proposed partial update of a base record.
func (e *Engine) CheckTypesPatch(ctx context.Context, class string, record, original Record) error {
	return e.CheckTypes(ctx, class, record, CheckOptions{Operation: OpPatch, Original: original, Exclusive: true, Dramatic: true})
}

// CheckTypesCreateOverlay validates the overlay side of a proposed create.
func (e *Engine) CheckTypesCreateOverlay(ctx context.Context, class string, record Record) error {
	return e.CheckTypes(ctx, class, record, CheckOptions{Operation: OpCreate, Exclusive: true, Dramatic: true, OverlayOnly: true})
}

// CheckTypesUpdateOverlay validates the overlay side of a proposed update.
func (e *Engine) CheckTypesUpdateOverlay(ctx context.Context, class string, record, original Record) error {
	return e.CheckTypes(ctx, class, record, CheckOptions{Operation: OpUpdate, Original: original, Exclusive: true, Dramatic: true, OverlayOnly: true})
}

// CheckTypesPatchOverlay validates the overlay side of a proposed patch.
func (e *Engine) CheckTypesPatchOverlay(ctx context.Context, class string, record, original Record) error {
	return e.CheckTypes(ctx, class, record, CheckOptions{Operation: OpPatch, Original: original, Exclusive: true, Dramatic: true, OverlayOnly: true})
}
