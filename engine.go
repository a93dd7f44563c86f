package reprivileger

import (
	"context"
	"time"
)

// Engine is the authorization and data-integrity core. It validates writes
// against the schema configuration, resolves privilege bitmasks, and
// serializes check-then-write lifecycles through per-class lock
// coordinators. All persistence goes through the Record Store; the engine
// holds no record state of its own.
//
// Example:
//
//	cfg := reprivileger.NewConfig()
//	cfg.DefineClass("ships").
//	    Field("name", reprivileger.FieldString).Validation("max:255|required").
//	    Field("owner_id", reprivileger.FieldString).Target("partners").
//	    Transit("owner_id", "partners")
//	engine, err := reprivileger.NewEngine(cfg, store)
type Engine struct {
	config *Config
	store  RecordStore
	locks  *LockRegistry
}

// NewEngine validates the configuration and wires the engine to a Record
// Store.
func NewEngine(config *Config, store RecordStore) (*Engine, error) {
	if config.IDField == "" {
		config.IDField = "_id"
	}
	if config.UserClass == "" {
		config.UserClass = "users"
	}
	if config.AuthorityClass == "" {
		config.AuthorityClass = "authorities"
	}
	if config.AuditClass == "" {
		config.AuditClass = "authority_audit_log"
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		config: config,
		store:  store,
		locks:  NewLockRegistry(0),
	}, nil
}

// WithLockTimeout bounds lock acquisition for every class scope created
// after the call. The timeout never interrupts in-flight work.
func (e *Engine) WithLockTimeout(timeout time.Duration) *Engine {
	e.locks = NewLockRegistry(timeout)
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// Store returns the Record Store the engine operates on.
func (e *Engine) Store() RecordStore {
	return e.store
}

// Locks returns the engine's lock registry, so hosts can guard their own
// per-entity resources with the same coordinators.
func (e *Engine) Locks() *LockRegistry {
	return e.locks
}

// ============================================================================
// GUARDED LIFECYCLES
// ============================================================================

// GuardedCreate runs the full guarded write lifecycle for a new record:
// write lock on the class scope, schema validation, overlay split, base and
// overlay writes. Returns the stored base record merged with its overlay
// fields.
func (e *Engine) GuardedCreate(ctx context.Context, class string, data Record) (Record, error) {
	schema := e.config.Schema(class)
	if schema == nil {
		return nil, NewError(ErrConfiguration, "no schema for class").WithClass(class)
	}
	var created Record
	err := e.locks.Get(class).WithWriteLock(ctx, func(ctx context.Context) error {
		base, overlay := SplitPatch(schema, data)
		if err := e.CheckTypesCreate(ctx, class, base); err != nil {
			return err
		}
		// The overlay side is validated even when the input carries no
		// overlay fields, so required overlay values cannot be skipped by
		// omission.
		if schema.OverlayClass != "" {
			if err := e.CheckTypesCreateOverlay(ctx, class, overlay); err != nil {
				return err
			}
		}
		stored, err := e.store.Create(ctx, class, base)
		if err != nil {
			return wrapStoreErr(err, "create failed")
		}
		created = stored
		if len(overlay) > 0 && schema.OverlayClass != "" {
			if err := e.writeOverlay(ctx, schema, stored, overlay); err != nil {
				return err
			}
			created = MergeSchemedPatch(schema, stored, overlay)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GuardedUpdate runs the guarded write lifecycle for a full update: write
// lock, write-permission check on the acting user, schema validation against
// the previous snapshot, then the base and overlay writes.
func (e *Engine) GuardedUpdate(ctx context.Context, class, id string, data Record) (Record, error) {
	return e.guardedWrite(ctx, class, id, data, OpUpdate)
}

// GuardedPatch runs the guarded write lifecycle for a partial update.
func (e *Engine) GuardedPatch(ctx context.Context, class, id string, data Record) (Record, error) {
	return e.guardedWrite(ctx, class, id, data, OpPatch)
}

func (e *Engine) guardedWrite(ctx context.Context, class, id string, data Record, op Operation) (Record, error) {
	schema := e.config.Schema(class)
	if schema == nil {
		return nil, NewError(ErrConfiguration, "no schema for class").WithClass(class)
	}
	var result Record
	err := e.locks.Get(class).WithWriteLock(ctx, func(ctx context.Context) error {
		actor := ActorID(ctx)
		allowed, err := e.UserCanWrite(ctx, actor, class, id)
		if err != nil {
			return err
		}
		if !allowed {
			return NewError(ErrAccessDenied, "write access required").
				WithClass(class).WithActor(actor)
		}

		original, err := e.store.Get(ctx, class, id)
		if err != nil {
			return wrapStoreErr(err, "original record lookup failed")
		}

		base, overlay := SplitPatch(schema, data)
		delete(base, e.config.IDField)
		opts := CheckOptions{Operation: op, Original: original, Exclusive: true, Dramatic: true}
		if err := e.CheckTypes(ctx, class, base, opts); err != nil {
			return err
		}
		// Run the overlay side unconditionally; on patches the rule sweep
		// already skips fields the input does not carry.
		if schema.OverlayClass != "" {
			opts.OverlayOnly = true
			if err := e.CheckTypes(ctx, class, overlay, opts); err != nil {
				return err
			}
		}

		stored, err := e.store.Patch(ctx, class, id, base)
		if err != nil {
			return wrapStoreErr(err, "patch failed")
		}
		result = stored
		if len(overlay) > 0 && schema.OverlayClass != "" {
			if err := e.writeOverlay(ctx, schema, stored, overlay); err != nil {
				return err
			}
		}
		merged, err := e.AttachOverlay(ctx, class, stored)
		if err != nil {
			return err
		}
		result = merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// writeOverlay appends a fresh overlay record for the base record,
// soft-destroying the previous active overlay so at most one stays active.
// Overlay history is never physically removed.
func (e *Engine) writeOverlay(ctx context.Context, schema *Schema, base Record, overlay Record) error {
	baseID, _ := base[e.config.IDField].(string)
	if baseID == "" {
		return NewError(ErrConfiguration, "base record has no id").WithClass(schema.Name)
	}
	active, err := e.store.Find(ctx, schema.OverlayClass, Query{
		"base_id":      baseID,
		"destroyed_at": nil,
	})
	if err != nil {
		return wrapStoreErr(err, "overlay lookup failed")
	}

	row := make(Record, len(overlay)+1)
	for _, prior := range active {
		for name, fd := range schema.Fields {
			if !fd.Overlay {
				continue
			}
			if value, ok := prior[name]; ok {
				row[name] = value
			}
		}
	}
	for k, v := range overlay {
		row[k] = v
	}
	row["base_id"] = baseID

	if _, err := e.store.Create(ctx, schema.OverlayClass, row); err != nil {
		return wrapStoreErr(err, "overlay create failed")
	}
	now := time.Now()
	for _, prior := range active {
		priorID, _ := prior[e.config.IDField].(string)
		if priorID == "" {
			continue
		}
		if _, err := e.store.Patch(ctx, schema.OverlayClass, priorID, Record{"destroyed_at": now}); err != nil {
			return wrapStoreErr(err, "overlay destroy failed")
		}
	}
	return nil
}

// GuardedGet runs the guarded read lifecycle: read lock, read-permission
// check on the acting user, record fetch, overlay merge.
func (e *Engine) GuardedGet(ctx context.Context, class, id string) (Record, error) {
	var result Record
	err := e.locks.Get(class).WithReadLock(ctx, func(ctx context.Context) error {
		actor := ActorID(ctx)
		allowed, err := e.UserCanRead(ctx, actor, class, id)
		if err != nil {
			return err
		}
		if !allowed {
			return NewError(ErrAccessDenied, "read access required").
				WithClass(class).WithActor(actor)
		}
		record, err := e.store.Get(ctx, class, id)
		if err != nil {
			return wrapStoreErr(err, "get failed")
		}
		result, err = e.AttachOverlay(ctx, class, record)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
