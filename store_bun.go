package reprivileger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/fernandezvara/dbkit"
)

// RecordRow is the storage model for the Postgres-backed Record Store.
// Every class shares one table; the record payload lives in a jsonb column
// and destroyed_at is lifted to a real column so active-record filters stay
// indexable.
type RecordRow struct {
	bun.BaseModel `bun:"table:records,alias:r"`

	ID          string     `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Class       string     `bun:"class,notnull"`
	RecordID    string     `bun:"record_id,notnull"`
	Data        Record     `bun:"data,type:jsonb"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	DestroyedAt *time.Time `bun:"destroyed_at"`
}

// BunStore is a RecordStore backed by Postgres through dbkit/bun.
type BunStore struct {
	db      dbkit.IDB
	idField string
}

// NewBunStore creates a BunStore over an existing database connection,
// using the given primary-key field name (typically Config.IDField).
//
// Example:
//
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	store := reprivileger.NewBunStore(db, "_id")
//	db.Migrate(ctx, store.Migrations())
func NewBunStore(db dbkit.IDB, idField string) *BunStore {
	if idField == "" {
		idField = "_id"
	}
	return &BunStore{db: db, idField: idField}
}

// Get returns the record for (class, id), or ErrNotFound.
func (s *BunStore) Get(ctx context.Context, class, id string) (Record, error) {
	var row RecordRow
	err := dbkit.WithErr1(s.db.NewSelect().Model(&row).
		Where("class = ? AND record_id = ?", class, id).
		Limit(1).Scan(ctx), "RecordGet").Err()
	if err != nil {
		if dbkit.IsNotFound(err) {
			return nil, NewError(ErrNotFound, "no such record").WithClass(class)
		}
		return nil, err
	}
	return s.recordFromRow(&row), nil
}

// Find returns every record in the class matching all query fields.
// Equality fields are matched with jsonb containment; the destroyed_at
// convention maps to the lifted column.
func (s *BunStore) Find(ctx context.Context, class string, query Query) ([]Record, error) {
	q := s.db.NewSelect().Model((*RecordRow)(nil)).Where("class = ?", class)

	contain := make(map[string]any)
	for field, want := range query {
		if field == "destroyed_at" {
			if want == nil {
				q = q.Where("destroyed_at IS NULL")
			} else {
				q = q.Where("destroyed_at IS NOT NULL")
			}
			continue
		}
		if want == nil {
			q = q.Where("NOT jsonb_exists(data, ?) OR data -> ? = 'null'::jsonb", field, field)
			continue
		}
		contain[field] = want
	}
	if len(contain) > 0 {
		encoded, err := json.Marshal(contain)
		if err != nil {
			return nil, NewError(ErrStore, "query not encodable").WithClass(class)
		}
		q = q.Where("data @> ?::jsonb", string(encoded))
	}

	var rows []RecordRow
	err := dbkit.WithErr1(q.Scan(ctx, &rows), "RecordFind").Err()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for i := range rows {
		records = append(records, s.recordFromRow(&rows[i]))
	}
	return records, nil
}

// Create stores a new record, minting a record id when the data does not
// carry one.
func (s *BunStore) Create(ctx context.Context, class string, data Record) (Record, error) {
	payload := copyRecord(data)
	id, _ := payload[s.idField].(string)
	if id == "" {
		id = newRecordID()
	}
	delete(payload, s.idField)
	row := &RecordRow{
		Class:       class,
		RecordID:    id,
		Data:        payload,
		DestroyedAt: destroyedAtColumn(payload),
	}
	delete(payload, "destroyed_at")

	result, err := s.db.NewInsert().Model(row).Exec(ctx)
	if err := dbkit.WithErr(result, err, "RecordCreate").Err(); err != nil {
		return nil, err
	}
	return s.recordFromRow(row), nil
}

// Patch merges partial data into an existing record and returns the result.
func (s *BunStore) Patch(ctx context.Context, class, id string, data Record) (Record, error) {
	payload := copyRecord(data)
	delete(payload, s.idField)
	destroyed, hasDestroyed := payload["destroyed_at"]
	delete(payload, "destroyed_at")

	q := s.db.NewUpdate().Model((*RecordRow)(nil)).
		Set("updated_at = current_timestamp").
		Where("class = ? AND record_id = ?", class, id)
	if len(payload) > 0 {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, NewError(ErrStore, "patch not encodable").WithClass(class)
		}
		q = q.Set("data = data || ?::jsonb", string(encoded))
	}
	if hasDestroyed {
		q = q.Set("destroyed_at = ?", destroyedAtValue(destroyed))
	}

	result, err := q.Exec(ctx)
	if err := dbkit.WithErr(result, err, "RecordPatch").Err(); err != nil {
		return nil, err
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return nil, NewError(ErrNotFound, "no such record").WithClass(class)
	}
	return s.Get(ctx, class, id)
}

func (s *BunStore) recordFromRow(row *RecordRow) Record {
	record := copyRecord(row.Data)
	record[s.idField] = row.RecordID
	if row.DestroyedAt != nil {
		record["destroyed_at"] = *row.DestroyedAt
	}
	return record
}

func destroyedAtColumn(payload Record) *time.Time {
	if t := destroyedAtValue(payload["destroyed_at"]); t != nil {
		return t
	}
	return nil
}

func destroyedAtValue(value any) *time.Time {
	switch v := value.(type) {
	case time.Time:
		return &v
	case *time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return &t
		}
	}
	return nil
}

// Migrations returns all database migrations required for the store.
// Use dbkit's Migrate with them before first use.
func (s *BunStore) Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "reprivileger-001",
			Description: "Create records table",
			SQL: `
                CREATE TABLE IF NOT EXISTS records (
                    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
                    class TEXT NOT NULL,
                    record_id TEXT NOT NULL,
                    data JSONB NOT NULL DEFAULT '{}'::jsonb,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    destroyed_at TIMESTAMPTZ
                )`,
		},
		{
			ID:          "reprivileger-002",
			Description: "Index records by class and record id",
			SQL: `
                CREATE UNIQUE INDEX IF NOT EXISTS records_class_record_id
                    ON records (class, record_id)`,
		},
		{
			ID:          "reprivileger-003",
			Description: "Index record payloads for containment queries",
			SQL: `
                CREATE INDEX IF NOT EXISTS records_data
                    ON records USING gin (data jsonb_path_ops)`,
		},
	}
}

// Health performs a health check of the database connection.
func (s *BunStore) Health(ctx context.Context) dbkit.HealthStatus {
	if db, ok := s.db.(*dbkit.DBKit); ok {
		return db.Health(ctx)
	}
	return dbkit.HealthStatus{
		Healthy: s.IsHealthy(ctx),
		Error:   "Limited health check - not a DBKit instance",
	}
}

// IsHealthy reports whether the database is reachable.
func (s *BunStore) IsHealthy(ctx context.Context) bool {
	if db, ok := s.db.(*dbkit.DBKit); ok {
		return db.IsHealthy(ctx)
	}
	var one int
	err := s.db.NewSelect().ColumnExpr("1").Limit(1).Scan(ctx, &one)
	return err == nil
}
