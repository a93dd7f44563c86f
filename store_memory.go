package reprivileger

import (
	"context"
	"reflect"
	"sync"
)

// MemoryStore is an in-process RecordStore keeping all records in maps.
// It backs unit tests and small embedded deployments that do not need a
// database; production hosts use BunStore.
type MemoryStore struct {
	mu      sync.RWMutex
	idField string
	classes map[string]map[string]Record
}

// NewMemoryStore creates an empty MemoryStore using the given primary-key
// field name (typically Config.IDField).
func NewMemoryStore(idField string) *MemoryStore {
	if idField == "" {
		idField = "_id"
	}
	return &MemoryStore{
		idField: idField,
		classes: make(map[string]map[string]Record),
	}
}

// Get returns a copy of the record, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, class, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if record, ok := s.classes[class][id]; ok {
		return copyRecord(record), nil
	}
	return nil, NewError(ErrNotFound, "no such record").WithClass(class)
}

// Find returns copies of every record in the class matching all query
// fields. A nil query value matches records where the field is null or
// absent.
func (s *MemoryStore) Find(ctx context.Context, class string, query Query) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, record := range s.classes[class] {
		if matchesQuery(record, query) {
			out = append(out, copyRecord(record))
		}
	}
	return out, nil
}

// Create stores a new record, minting an id when the data does not carry
// one, and returns a copy including the id.
func (s *MemoryStore) Create(ctx context.Context, class string, data Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := copyRecord(data)
	id, _ := record[s.idField].(string)
	if id == "" {
		id = newRecordID()
		record[s.idField] = id
	}
	if s.classes[class] == nil {
		s.classes[class] = make(map[string]Record)
	}
	s.classes[class][id] = record
	return copyRecord(record), nil
}

// Patch merges the partial data into an existing record and returns a copy
// of the result.
func (s *MemoryStore) Patch(ctx context.Context, class, id string, data Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.classes[class][id]
	if !ok {
		return nil, NewError(ErrNotFound, "no such record").WithClass(class)
	}
	for k, v := range data {
		record[k] = v
	}
	return copyRecord(record), nil
}

func copyRecord(record Record) Record {
	out := make(Record, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}

func matchesQuery(record Record, query Query) bool {
	for field, want := range query {
		got, present := record[field]
		if want == nil {
			if present && got != nil {
				return false
			}
			continue
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// looseEqual compares wire values, treating all numeric types as one kind.
// Non-numeric values compare structurally, so object and list values never
// trip the runtime's uncomparable-type panic.
func looseEqual(a, b any) bool {
	if na, ok := toNumber(a); ok {
		nb, ok := toNumber(b)
		return ok && na == nb
	}
	if _, ok := toNumber(b); ok {
		return false
	}
	return reflect.DeepEqual(a, b)
}
