package reprivileger

import (
	"context"
	"sort"
	"time"
)

// Authority is a direct grant of privilege bits to a user over one record.
// Grants are soft-deleted through DestroyedAt and never physically removed.
type Authority struct {
	ID          string
	UserID      string
	TargetClass string
	TargetID    string
	Privilege   Privilege
	CreatedAt   time.Time
	DestroyedAt *time.Time
}

// ToRecord converts the authority to its wire form.
func (a *Authority) ToRecord(idField string) Record {
	record := Record{
		"user_id":      a.UserID,
		"target_class": a.TargetClass,
		"target_id":    a.TargetID,
		"privilege":    uint32(a.Privilege),
		"created_at":   a.CreatedAt,
	}
	if a.ID != "" {
		record[idField] = a.ID
	}
	if a.DestroyedAt != nil {
		record["destroyed_at"] = *a.DestroyedAt
	} else {
		record["destroyed_at"] = nil
	}
	return record
}

func authorityFromRecord(record Record, idField string) Authority {
	a := Authority{
		UserID:    stringField(record, "user_id"),
		Privilege: toPrivilege(record["privilege"]),
	}
	a.ID = stringField(record, idField)
	a.TargetClass = stringField(record, "target_class")
	a.TargetID = stringField(record, "target_id")
	if t, ok := record["created_at"].(time.Time); ok {
		a.CreatedAt = t
	}
	if t, ok := record["destroyed_at"].(time.Time); ok {
		a.DestroyedAt = &t
	}
	return a
}

func stringField(record Record, name string) string {
	s, _ := record[name].(string)
	return s
}

// ============================================================================
// AUTHORITY LIFECYCLE
// ============================================================================

// Grant creates an authority record giving userID the privilege bits over
// (class, id). The acting user must already hold the delegate bit on the
// target; internal calls bypass the check.
//
// Example:
//
//	err := engine.Grant(ctx, "u1", "ships", "s1", reprivileger.PrivilegeWrite)
func (e *Engine) Grant(ctx context.Context, userID, class, id string, privilege Privilege) (*Authority, error) {
	actor := ActorID(ctx)
	if !IsInternalCall(ctx) {
		level, err := e.AccessLevelWithUser(ctx, actor, class, id)
		if err != nil {
			return nil, err
		}
		if !level.CanDelegate() {
			return nil, NewError(ErrAccessDenied, "delegate authority required to grant").
				WithClass(class).WithUser(userID).WithActor(actor)
		}
	}

	authority := &Authority{
		UserID:      userID,
		TargetClass: class,
		TargetID:    id,
		Privilege:   privilege,
		CreatedAt:   time.Now(),
	}
	stored, err := e.store.Create(ctx, e.config.AuthorityClass, authority.ToRecord(e.config.IDField))
	if err != nil {
		return nil, wrapStoreErr(err, "authority create failed")
	}
	created := authorityFromRecord(stored, e.config.IDField)

	e.logAudit(ctx, &AuditEntry{
		Action:       AuditActionGranted,
		TargetUserID: userID,
		TargetClass:  class,
		TargetID:     id,
		Privilege:    privilege,
	})
	return &created, nil
}

// Revoke soft-destroys an authority record. The acting user must still hold
// the delegate bit on the grant's target; internal calls bypass the check.
func (e *Engine) Revoke(ctx context.Context, authorityID string) error {
	record, err := e.store.Get(ctx, e.config.AuthorityClass, authorityID)
	if err != nil {
		return wrapStoreErr(err, "authority lookup failed")
	}
	authority := authorityFromRecord(record, e.config.IDField)
	if authority.DestroyedAt != nil {
		return NewError(ErrNotFound, "authority already revoked").WithUser(authority.UserID)
	}

	actor := ActorID(ctx)
	if !IsInternalCall(ctx) {
		level, err := e.AccessLevelWithUser(ctx, actor, authority.TargetClass, authority.TargetID)
		if err != nil {
			return err
		}
		if !level.CanDelegate() {
			return NewError(ErrAccessDenied, "delegate authority required to revoke").
				WithClass(authority.TargetClass).WithUser(authority.UserID).WithActor(actor)
		}
	}

	if _, err := e.store.Patch(ctx, e.config.AuthorityClass, authorityID, Record{
		"destroyed_at": time.Now(),
	}); err != nil {
		return wrapStoreErr(err, "authority revoke failed")
	}

	e.logAudit(ctx, &AuditEntry{
		Action:       AuditActionRevoked,
		TargetUserID: authority.UserID,
		TargetClass:  authority.TargetClass,
		TargetID:     authority.TargetID,
		Privilege:    authority.Privilege,
	})
	return nil
}

// GetUserAuthorities retrieves every active grant held by a user.
func (e *Engine) GetUserAuthorities(ctx context.Context, userID string) ([]Authority, error) {
	return e.findAuthorities(ctx, Query{"user_id": userID, "destroyed_at": nil})
}

// GetTargetAuthorities retrieves every active grant over a record.
func (e *Engine) GetTargetAuthorities(ctx context.Context, class, id string) ([]Authority, error) {
	return e.findAuthorities(ctx, Query{"target_class": class, "target_id": id, "destroyed_at": nil})
}

func (e *Engine) findAuthorities(ctx context.Context, query Query) ([]Authority, error) {
	records, err := e.store.Find(ctx, e.config.AuthorityClass, query)
	if err != nil {
		return nil, wrapStoreErr(err, "authority query failed")
	}
	authorities := make([]Authority, 0, len(records))
	for _, record := range records {
		authorities = append(authorities, authorityFromRecord(record, e.config.IDField))
	}
	return authorities, nil
}

// ============================================================================
// AUDIT LOG
// ============================================================================

// AuditAction is the kind of authority change recorded in the audit log.
type AuditAction string

const (
	AuditActionGranted AuditAction = "granted"
	AuditActionRevoked AuditAction = "revoked"
)

// AuditEntry records one authority change for compliance and debugging.
type AuditEntry struct {
	ActorID      string
	Action       AuditAction
	TargetUserID string
	TargetClass  string
	TargetID     string
	Privilege    Privilege
	IPAddress    string
	UserAgent    string
	RequestID    string
	Timestamp    time.Time
}

// ToRecord converts an AuditEntry to its wire form.
func (entry *AuditEntry) ToRecord() Record {
	return Record{
		"actor_id":       entry.ActorID,
		"action":         string(entry.Action),
		"target_user_id": entry.TargetUserID,
		"target_class":   entry.TargetClass,
		"target_id":      entry.TargetID,
		"privilege":      uint32(entry.Privilege),
		"ip_address":     entry.IPAddress,
		"user_agent":     entry.UserAgent,
		"request_id":     entry.RequestID,
		"timestamp":      entry.Timestamp,
	}
}

// logAudit records an authority change. Audit failures never fail the
// operation they describe.
func (e *Engine) logAudit(ctx context.Context, entry *AuditEntry) {
	audit := GetAuditContext(ctx)
	entry.ActorID = audit.ActorID
	entry.IPAddress = audit.IPAddress
	entry.UserAgent = audit.UserAgent
	entry.RequestID = audit.RequestID
	entry.Timestamp = time.Now()
	_, _ = e.store.Create(ctx, e.config.AuditClass, entry.ToRecord())
}

// GetAuditLog retrieves audit log entries with optional filters, most
// recent first.
func (e *Engine) GetAuditLog(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	query := Query{}
	if filter.ActorID != "" {
		query["actor_id"] = filter.ActorID
	}
	if filter.TargetUserID != "" {
		query["target_user_id"] = filter.TargetUserID
	}
	if filter.TargetClass != "" {
		query["target_class"] = filter.TargetClass
	}
	if filter.TargetID != "" {
		query["target_id"] = filter.TargetID
	}
	if filter.Action != "" {
		query["action"] = string(filter.Action)
	}
	records, err := e.store.Find(ctx, e.config.AuditClass, query)
	if err != nil {
		return nil, wrapStoreErr(err, "audit log query failed")
	}

	entries := make([]AuditEntry, 0, len(records))
	for _, record := range records {
		entry := AuditEntry{
			ActorID:      stringField(record, "actor_id"),
			Action:       AuditAction(stringField(record, "action")),
			TargetUserID: stringField(record, "target_user_id"),
			TargetClass:  stringField(record, "target_class"),
			TargetID:     stringField(record, "target_id"),
			Privilege:    toPrivilege(record["privilege"]),
			IPAddress:    stringField(record, "ip_address"),
			UserAgent:    stringField(record, "user_agent"),
			RequestID:    stringField(record, "request_id"),
		}
		if t, ok := record["timestamp"].(time.Time); ok {
			entry.Timestamp = t
		}
		if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && entry.Timestamp.After(filter.Until) {
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[filter.Offset:]
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
