package reprivileger

import (
	"context"
)

// SubmodelSeparator joins nested submodel field names into single flat
// names (e.g. "address_city") for the flat wire format.
const SubmodelSeparator = "_"

// SplitPatch partitions a flat record into base fields and overlay fields
// according to each field's overlay flag. Fields absent from the schema go
// to the base side.
func SplitPatch(schema *Schema, record Record) (base Record, overlay Record) {
	base = make(Record)
	overlay = make(Record)
	for name, value := range record {
		if fd, ok := schema.Fields[name]; ok && fd.Overlay {
			overlay[name] = value
		} else {
			base[name] = value
		}
	}
	return base, overlay
}

// MergePatch merges overlay fields over base fields; overlay wins.
// Neither input is modified.
func MergePatch(base, overlay Record) Record {
	merged := make(Record, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// MergeSchemedPatch merges only the fields the schema marks as overlay
// fields, so unschemaed keys in a raw overlay object cannot leak through.
func MergeSchemedPatch(schema *Schema, base, overlay Record) Record {
	merged := make(Record, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for name, fd := range schema.Fields {
		if !fd.Overlay {
			continue
		}
		if value, ok := overlay[name]; ok {
			merged[name] = value
		}
	}
	return merged
}

// AttachOverlay fetches the active overlay record for a base record and
// merges its schema-declared overlay fields over the base for presentation.
// At most one active overlay is assumed to exist; when more are found the
// first is used silently. A base record without an overlay is returned
// unchanged.
func (e *Engine) AttachOverlay(ctx context.Context, class string, baseRecord Record) (Record, error) {
	schema := e.config.Schema(class)
	if schema == nil {
		return nil, NewError(ErrConfiguration, "no schema for class").WithClass(class)
	}
	if schema.OverlayClass == "" {
		return baseRecord, nil
	}
	baseID, _ := baseRecord[e.config.IDField].(string)
	if baseID == "" {
		return baseRecord, nil
	}
	overlays, err := e.store.Find(ctx, schema.OverlayClass, Query{
		"base_id":      baseID,
		"destroyed_at": nil,
	})
	if err != nil {
		return nil, wrapStoreErr(err, "overlay lookup failed")
	}
	if len(overlays) == 0 {
		return baseRecord, nil
	}
	return MergeSchemedPatch(schema, baseRecord, overlays[0]), nil
}

// SubmodelPaths maps every flat delimited field name of a schema to the
// path of record keys it addresses. Non-submodel fields map to their own
// name; submodel fields contribute one entry per nested leaf.
func (c *Config) SubmodelPaths(schema *Schema) map[string][]string {
	paths := make(map[string][]string)
	c.collectPaths(schema, nil, "", paths)
	return paths
}

func (c *Config) collectPaths(schema *Schema, prefix []string, flat string, paths map[string][]string) {
	for name, fd := range schema.Fields {
		path := append(append([]string{}, prefix...), name)
		flatName := name
		if flat != "" {
			flatName = flat + SubmodelSeparator + name
		}
		if nested := c.resolveSubmodel(fd); nested != nil {
			c.collectPaths(nested, path, flatName, paths)
			continue
		}
		paths[flatName] = path
	}
}

// SplitSubmodelData flattens a nested record into a path-per-flat-name map,
// so that deeply nested submodel fields can be addressed with single
// delimited names on the wire. Keys without a schema path are kept as-is.
func (c *Config) SplitSubmodelData(schema *Schema, record Record) Record {
	flat := make(Record)
	paths := c.SubmodelPaths(schema)
	for flatName, path := range paths {
		if value, ok := lookupPath(record, path); ok {
			flat[flatName] = value
		}
	}
	for name, value := range record {
		if _, schemed := schema.Fields[name]; !schemed {
			flat[name] = value
		}
	}
	return flat
}

// MergeSubmodelData expands a flat delimited record back into its nested
// form. Keys without a schema path are kept at the top level.
func (c *Config) MergeSubmodelData(schema *Schema, flat Record) Record {
	nested := make(Record)
	paths := c.SubmodelPaths(schema)
	for flatName, value := range flat {
		path, ok := paths[flatName]
		if !ok {
			nested[flatName] = value
			continue
		}
		storePath(nested, path, value)
	}
	return nested
}

func lookupPath(record Record, path []string) (any, bool) {
	current := record
	for i, key := range path {
		value, ok := current[key]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return value, true
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

func storePath(record Record, path []string, value any) {
	current := record
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}
