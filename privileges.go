package reprivileger

import (
	"context"
	"sync"
)

// Privilege is an access-control bitmask over one record.
//
// Bit layout:
//
//	bit 0 — non-transitive self marker; never propagates across transit edges
//	bit 1 — read
//	bits 1+2 — write (write implies read)
//	bit 3 — delegate/revoke authority grants
type Privilege uint32

const (
	// PrivilegeSelf is the non-transitive self marker.
	PrivilegeSelf Privilege = 1 << 0
	// PrivilegeRead grants read access.
	PrivilegeRead Privilege = 1 << 1
	// PrivilegeModify is the write-extra bit; meaningful only together with
	// PrivilegeRead (see PrivilegeWrite).
	PrivilegeModify Privilege = 1 << 2
	// PrivilegeDelegate grants the right to grant and revoke authority.
	PrivilegeDelegate Privilege = 1 << 3

	// PrivilegeWrite is the full write mask (read + modify).
	PrivilegeWrite = PrivilegeRead | PrivilegeModify

	// PrivilegeAll is every bit set; administrators short-circuit to this.
	PrivilegeAll Privilege = 0xFF
)

// CanRead reports whether the read bit is set.
func (p Privilege) CanRead() bool {
	return p&PrivilegeRead != 0
}

// CanWrite reports whether both write bits are set.
func (p Privilege) CanWrite() bool {
	return p&PrivilegeWrite == PrivilegeWrite
}

// CanDelegate reports whether the delegate bit is set.
func (p Privilege) CanDelegate() bool {
	return p&PrivilegeDelegate != 0
}

// Has reports whether every bit of the required mask is set.
func (p Privilege) Has(required Privilege) bool {
	return p&required == required
}

// toPrivilege normalizes a privilege value read from a wire record.
func toPrivilege(value any) Privilege {
	if p, ok := value.(Privilege); ok {
		return p
	}
	if n, ok := toNumber(value); ok && n >= 0 {
		return Privilege(uint32(n))
	}
	return 0
}

// visitSet guards the transit recursion against cyclic configuration.
// Keys are class:id pairs; a revisited pair contributes nothing.
type visitSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newVisitSet() *visitSet {
	return &visitSet{seen: make(map[string]bool)}
}

// add marks a pair visited and reports whether it was new.
func (v *visitSet) add(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seen[key] {
		return false
	}
	v.seen[key] = true
	return true
}

// ============================================================================
// PRIVILEGE RESOLUTION
// ============================================================================

// AccessLevel computes the privilege bitmask a user holds over a record.
// It OR-combines direct authority grants, the configured self-access on the
// user's own record, and privilege inherited through transit rules from
// parent records (minus the non-transitive bit, AND-ed with each rule's
// mask). A missing target record is a failure, not a zero bitmask.
//
// AccessLevel does not consult the administrator flag; see
// AccessLevelWithUser.
func (e *Engine) AccessLevel(ctx context.Context, userID, class, id string) (Privilege, error) {
	return e.accessLevel(ctx, userID, class, id, newVisitSet())
}

func (e *Engine) accessLevel(ctx context.Context, userID, class, id string, visited *visitSet) (Privilege, error) {
	if !visited.add(class + ":" + id) {
		return 0, nil
	}

	// The existence fetch and the direct-grant query are independent;
	// transit resolution needs the record and runs after the fetch.
	var (
		wg       sync.WaitGroup
		record   Record
		getErr   error
		direct   Privilege
		grantErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		record, getErr = e.store.Get(ctx, class, id)
	}()
	go func() {
		defer wg.Done()
		direct, grantErr = e.directGrants(ctx, userID, class, id)
	}()
	wg.Wait()

	if getErr != nil {
		return 0, wrapStoreErr(getErr, "privilege target lookup failed")
	}
	if grantErr != nil {
		return 0, grantErr
	}

	level := direct
	if class == e.config.UserClass && id == userID && e.config.SelfAccess != 0 {
		level |= e.config.SelfAccess
	}

	rules := e.config.Transit[class]
	if len(rules) == 0 {
		return level, nil
	}

	type transitResult struct {
		mask Privilege
		err  error
	}
	results := make([]transitResult, len(rules))
	wg.Add(len(rules))
	for i, rule := range rules {
		go func(i int, rule TransitRule) {
			defer wg.Done()
			parentID, ok := record[rule.Key].(string)
			if !ok || parentID == "" {
				return
			}
			parent, err := e.accessLevel(ctx, userID, rule.Class, parentID, visited)
			if err != nil {
				results[i].err = err
				return
			}
			parent &^= PrivilegeSelf
			if rule.Mask != 0 {
				parent &= rule.Mask
			}
			results[i].mask = parent
		}(i, rule)
	}
	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			return 0, res.err
		}
		level |= res.mask
	}
	return level, nil
}

// directGrants ORs the privilege of every active authority record the user
// holds on the target.
func (e *Engine) directGrants(ctx context.Context, userID, class, id string) (Privilege, error) {
	grants, err := e.store.Find(ctx, e.config.AuthorityClass, Query{
		"user_id":      userID,
		"target_class": class,
		"target_id":    id,
		"destroyed_at": nil,
	})
	if err != nil {
		return 0, wrapStoreErr(err, "authority lookup failed")
	}
	var level Privilege
	for _, grant := range grants {
		level |= toPrivilege(grant["privilege"])
	}
	return level, nil
}

// AccessLevelWithUser computes AccessLevel and additionally ORs in all bits
// when the acting user is an administrator.
func (e *Engine) AccessLevelWithUser(ctx context.Context, userID, class, id string) (Privilege, error) {
	level, err := e.AccessLevel(ctx, userID, class, id)
	if err != nil {
		return 0, err
	}
	admin, err := e.UserIsAdministrator(ctx, userID)
	if err != nil {
		return 0, err
	}
	if admin {
		level |= PrivilegeAll
	}
	return level, nil
}

// UserIsAdministrator reports whether the configured administrator flag is
// set on the user's record. Without a configured flag field nobody is an
// administrator.
func (e *Engine) UserIsAdministrator(ctx context.Context, userID string) (bool, error) {
	if e.config.AdministratorFlagField == "" || userID == "" {
		return false, nil
	}
	user, err := e.store.Get(ctx, e.config.UserClass, userID)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, wrapStoreErr(err, "administrator flag lookup failed")
	}
	flag, _ := user[e.config.AdministratorFlagField].(bool)
	return flag, nil
}

// ============================================================================
// ACCESS PREDICATES
// ============================================================================
//
// An empty user ID denotes an internal/system call and short-circuits every
// predicate to true; AccessLevel itself never does.

// UserCanRead reports whether the user may read the record.
func (e *Engine) UserCanRead(ctx context.Context, userID, class, id string) (bool, error) {
	if userID == "" {
		return true, nil
	}
	level, err := e.AccessLevelWithUser(ctx, userID, class, id)
	if err != nil {
		return false, err
	}
	return level.CanRead(), nil
}

// UserCanWrite reports whether the user may write the record.
func (e *Engine) UserCanWrite(ctx context.Context, userID, class, id string) (bool, error) {
	if userID == "" {
		return true, nil
	}
	level, err := e.AccessLevelWithUser(ctx, userID, class, id)
	if err != nil {
		return false, err
	}
	return level.CanWrite(), nil
}

// UserCanListChildren reports whether the user may enumerate records that
// point at this one. Listing requires read access on the parent.
func (e *Engine) UserCanListChildren(ctx context.Context, userID, class, id string) (bool, error) {
	return e.UserCanRead(ctx, userID, class, id)
}

// UserCanAddChildren reports whether the user may create records that point
// at this one. Adding requires write access on the parent.
func (e *Engine) UserCanAddChildren(ctx context.Context, userID, class, id string) (bool, error) {
	return e.UserCanWrite(ctx, userID, class, id)
}
