// Package reprivileger provides an embeddable authorization and
// data-integrity engine for record-oriented applications.
//
// Reprivileger sits between an application and its record store. It resolves
// what a user may do to any record by walking reference chains, validates
// writes against declarative schemas, splits restricted fields into overlay
// records, and serializes check-then-write lifecycles through per-class lock
// coordinators.
//
// # Core Concepts
//
// Record: A map of field names to values, identified by (class, id). All
// persistence goes through the RecordStore interface; the engine holds no
// record state of its own.
//
// Privilege: A bitmask of rights over one record. The bits compose:
//
//   - PrivilegeSelf (1): record is the user's own; never transits
//   - PrivilegeRead (2): may read
//   - PrivilegeWrite (6): may read and modify
//   - PrivilegeDelegate (8): may grant or revoke authority over the record
//   - PrivilegeAll (0xFF): everything; what administrators resolve to
//
// Authority: A stored grant of privilege bits from one user to one record.
// Privileges then flow along configured transit rules: holding write on a
// partner grants write on the partner's ships, minus the self bit and any
// per-rule mask.
//
// Schema: A per-class declaration of fields (type, validation rules, access
// flags, reference targets) plus class-level uniqueness rules. Validation
// rules use a compact pipe grammar, e.g. "max:255|required|alpha_dash".
//
// Overlay: Fields flagged as restricted are stored in a side class rather
// than the base record, soft-deleted on every change so at most one overlay
// stays active and history is never lost.
//
// # Key Features
//
//   - Transitive privilege resolution with cycle-safe concurrent fan-out
//   - Administrator short-circuit and self-access on the user's own record
//   - Schema validation: types, rule grammar, read-only/computed/
//     administrator-only/immutable field enforcement, uniqueness
//   - Reference integrity: target existence, authority on targets,
//     bounded recursive reference depth with cycle detection
//   - Overlay records for restricted fields, merged back on read
//   - Reentrant per-class read/write locks with acquisition timeouts
//   - Pluggable storage: in-memory store for tests, Postgres store via DBKit
//   - Audit logging of every grant and revocation
//
// # Basic Usage
//
//	// 1. Declare your classes (at application startup)
//	cfg := reprivileger.NewConfig()
//
//	cfg.DefineClass("partners").
//	    Field("name", reprivileger.FieldString).Validation("max:255|required").
//	    Field("owner_id", reprivileger.FieldString).Target("users").
//	    Transit("owner_id", "users")
//
//	cfg.DefineClass("ships").
//	    Field("name", reprivileger.FieldString).Validation("max:255|required").
//	    Field("partner_id", reprivileger.FieldString).Target("partners").
//	    Field("notes", reprivileger.FieldString).Overlay().
//	    OverlayClass("ship_overlays").
//	    Transit("partner_id", "partners")
//
//	// 2. Create the engine over a store
//	store := reprivileger.NewMemoryStore("_id")
//	engine, err := reprivileger.NewEngine(cfg, store)
//
//	// 3. Write through the guarded lifecycle
//	ctx = reprivileger.WithActor(ctx, userID)
//	ship, err := engine.GuardedCreate(ctx, "ships", reprivileger.Record{
//	    "name":       "Dawn Treader",
//	    "partner_id": partnerID,
//	})
//
//	// 4. Check privileges directly
//	level, err := engine.AccessLevelWithUser(ctx, userID, "ships", shipID)
//	if level.CanWrite() {
//	    // User may modify this ship
//	}
//
// # Call Context
//
// Every operation distinguishes internal calls from external ones. An
// external call carries the acting user through WithActor and is subject to
// privilege checks; WithInternalCall bypasses them for trusted system paths.
// A per-user Checker can be stored in context for handlers:
//
//	ctx = reprivileger.WithChecker(ctx, engine.GetChecker(userID))
//	if ok, _ := reprivileger.FromContext(ctx).CanRead(ctx, "ships", shipID); ok {
//	    // ...
//	}
//
// # Error Reporting
//
// Validation runs in one of two modes. Dramatic checks return a detailed
// *Error naming the class, field, and failed rule; quiet checks reduce the
// outcome to a bare sentinel (or a boolean via CheckTypesQuiet) for hot
// paths that only branch on success.
//
// # Audit Log
//
// Every grant and revocation is logged with:
//   - Actor (who made the change)
//   - Target user, class, and record
//   - Privilege bits involved
//   - Timestamp
//   - Request metadata (IP, user agent, request ID)
package reprivileger
