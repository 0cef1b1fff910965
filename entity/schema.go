/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package entity

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// BookkeepingField is the Go field name of bun's model marker. It never maps
// to a column and is always excluded from updates and logs.
const BookkeepingField = "BaseModel"

var schemaCache sync.Map // reflect.Type -> *Schema

// Field describes one column of an entity struct.
type Field struct {
	Name          string // column name
	GoName        string
	Type          reflect.Type
	Index         []int
	PrimaryKey    bool
	AutoIncrement bool
	SoftDelete    bool
}

// Value returns the field of strct, which must be the entity struct value.
// It fails instead of panicking when an embedded pointer on the path is nil.
func (f *Field) Value(strct reflect.Value) (reflect.Value, error) {
	return strct.FieldByIndexErr(f.Index)
}

// Relation kinds, as spelled in bun's rel tag.
const (
	RelBelongsTo = "belongs-to"
	RelHasOne    = "has-one"
	RelHasMany   = "has-many"
	RelM2M       = "m2m"
)

// Relation is a bun relation field. For belongs-to, Column is the local join
// column and RefColumn the column of the related entity it refers to.
type Relation struct {
	GoName    string
	Kind      string
	Type      reflect.Type // related struct type
	Column    string
	RefColumn string
}

// Key returns the RefColumn value of v, a related entity or a pointer to one.
func (rel *Relation) Key(v interface{}) (interface{}, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("%s: related entity is nil", rel.GoName)
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Type() != rel.Type {
		return nil, fmt.Errorf("%s expects %s, got %T", rel.GoName, rel.Type, v)
	}
	related, err := Describe(rel.Type)
	if err != nil {
		return nil, err
	}
	f, ok := related.Lookup(rel.RefColumn)
	if !ok {
		return nil, fmt.Errorf("%s has no column %s", related.TypeName, rel.RefColumn)
	}
	fv, err := f.Value(rv)
	if err != nil {
		return nil, err
	}
	return fv.Interface(), nil
}

// Schema is the resolved column layout of an entity type.
type Schema struct {
	Type       reflect.Type
	TypeName   string
	Table      string
	Fields     []*Field
	Relations  []*Relation
	PK         *Field
	SoftDelete *Field

	byName map[string]*Field
	rels   map[string]*Relation
}

// Describe resolves the schema of typ (a struct type or a pointer to one).
// Successful results are cached per type for the lifetime of the process.
func Describe(typ reflect.Type) (*Schema, error) {
	if typ == nil {
		return nil, fmt.Errorf("entity type is nil")
	}
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if cached, ok := schemaCache.Load(typ); ok {
		return cached.(*Schema), nil
	}
	s, err := newSchema(typ)
	if err != nil {
		return nil, err
	}
	actual, _ := schemaCache.LoadOrStore(typ, s)
	return actual.(*Schema), nil
}

// DescribeOf is Describe for the dynamic type of v.
func DescribeOf(v interface{}) (*Schema, error) {
	return Describe(reflect.TypeOf(v))
}

func newSchema(typ reflect.Type) (*Schema, error) {
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity type %s must be a struct, got %s", typ, typ.Kind())
	}
	s := &Schema{
		Type:     typ,
		TypeName: typ.Name(),
		byName:   make(map[string]*Field),
		rels:     make(map[string]*Relation),
	}
	if err := s.collect(typ, "", nil); err != nil {
		return nil, err
	}

	var pks []*Field
	for _, f := range s.Fields {
		if f.PrimaryKey {
			pks = append(pks, f)
		}
		if f.SoftDelete {
			s.SoftDelete = f
		}
	}
	switch {
	case len(pks) == 0:
		return nil, fmt.Errorf("entity type %s has no primary key column", typ)
	case len(pks) > 1:
		return nil, fmt.Errorf("entity type %s has a composite primary key", typ)
	}
	if !isInteger(pks[0].Type) {
		return nil, fmt.Errorf("entity type %s: primary key %s must be an integer, got %s", typ, pks[0].Name, pks[0].Type)
	}
	s.PK = pks[0]

	for _, f := range s.Fields {
		s.byName[f.Name] = f
	}
	for _, f := range s.Fields {
		if _, taken := s.byName[f.GoName]; !taken {
			s.byName[f.GoName] = f
		}
	}

	for _, rel := range s.Relations {
		if rel.Kind == RelBelongsTo {
			if _, ok := s.byName[rel.Column]; !ok {
				return nil, fmt.Errorf("entity type %s: relation %s joins unknown column %s", typ, rel.GoName, rel.Column)
			}
		}
		for _, name := range []string{rel.GoName, underscore(rel.GoName)} {
			if _, taken := s.byName[name]; taken {
				continue
			}
			if _, taken := s.rels[name]; !taken {
				s.rels[name] = rel
			}
		}
	}
	return s, nil
}

func (s *Schema) collect(t reflect.Type, prefix string, parent []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append(make([]int, 0, len(parent)+1), parent...), i)
		tag := sf.Tag.Get("bun")

		if isBaseModel(sf) {
			if s.Table == "" {
				s.Table = tableFromTag(tag)
			}
			continue
		}
		if tag == "-" {
			continue
		}

		name, opts := parseTag(tag)
		if embedPrefix, ok := opts["embed"]; ok {
			if ft := indirect(sf.Type); ft.Kind() == reflect.Struct {
				if err := s.collect(ft, prefix+embedPrefix, index); err != nil {
					return err
				}
			}
			continue
		}
		if sf.Anonymous && tag == "" {
			if ft := indirect(sf.Type); ft.Kind() == reflect.Struct {
				if err := s.collect(ft, prefix, index); err != nil {
					return err
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if kind, ok := opts["rel"]; ok {
			s.Relations = append(s.Relations, newRelation(sf, kind, opts["join"]))
			continue
		}
		if _, ok := opts["m2m"]; ok {
			s.Relations = append(s.Relations, newRelation(sf, RelM2M, ""))
			continue
		}

		if name == "" {
			name = underscore(sf.Name)
		}
		f := &Field{
			Name:   prefix + name,
			GoName: sf.Name,
			Type:   sf.Type,
			Index:  index,
		}
		_, f.PrimaryKey = opts["pk"]
		_, autoincrement := opts["autoincrement"]
		_, identity := opts["identity"]
		f.AutoIncrement = autoincrement || identity
		_, f.SoftDelete = opts["soft_delete"]

		for _, existing := range s.Fields {
			if existing.Name == f.Name {
				return fmt.Errorf("entity type %s declares column %s twice", s.Type, f.Name)
			}
		}
		s.Fields = append(s.Fields, f)
	}
	return nil
}

// Lookup finds a field by column name or Go field name.
func (s *Schema) Lookup(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Relation finds a relation by Go field name or its underscored form.
// Column names take precedence and never resolve to a relation.
func (s *Schema) Relation(name string) (*Relation, bool) {
	rel, ok := s.rels[name]
	return rel, ok
}

// newRelation reads a bun relation tag. A belongs-to without join defaults to
// <field>_id = id.
func newRelation(sf reflect.StructField, kind, join string) *Relation {
	t := indirect(sf.Type)
	if t.Kind() == reflect.Slice {
		t = indirect(t.Elem())
	}
	rel := &Relation{GoName: sf.Name, Kind: kind, Type: t}
	if kind != RelBelongsTo {
		return rel
	}
	rel.Column, rel.RefColumn = underscore(sf.Name)+"_id", "id"
	if join != "" {
		local, ref, ok := strings.Cut(join, "=")
		rel.Column = strings.TrimSpace(local)
		if ok {
			rel.RefColumn = strings.TrimSpace(ref)
		}
	}
	return rel
}

// IsBookkeeping reports whether name refers to engine-internal state: bun's
// model marker or the soft-delete column.
func (s *Schema) IsBookkeeping(name string) bool {
	if name == BookkeepingField {
		return true
	}
	if s.SoftDelete == nil {
		return false
	}
	return name == s.SoftDelete.Name || name == s.SoftDelete.GoName
}

// Attributes returns the column values of strct keyed by column name.
func (s *Schema) Attributes(strct reflect.Value) (map[string]interface{}, error) {
	for strct.Kind() == reflect.Ptr {
		if strct.IsNil() {
			return nil, fmt.Errorf("%s is nil", s.TypeName)
		}
		strct = strct.Elem()
	}
	if strct.Type() != s.Type {
		return nil, fmt.Errorf("expected %s, got %s", s.Type, strct.Type())
	}
	attrs := make(map[string]interface{}, len(s.Fields))
	for _, f := range s.Fields {
		fv, err := f.Value(strct)
		if err != nil {
			return nil, fmt.Errorf("read %s.%s: %w", s.TypeName, f.GoName, err)
		}
		attrs[f.Name] = fv.Interface()
	}
	return attrs, nil
}

func isBaseModel(sf reflect.StructField) bool {
	return sf.Name == BookkeepingField && strings.Contains(sf.Type.PkgPath(), "uptrace/bun")
}

func tableFromTag(tag string) string {
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "table:") {
			return strings.TrimPrefix(part, "table:")
		}
	}
	return ""
}

func parseTag(tag string) (string, map[string]string) {
	opts := make(map[string]string)
	if tag == "" {
		return "", opts
	}
	parts := strings.Split(tag, ",")
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key, value, _ := strings.Cut(p, ":")
		opts[key] = value
	}
	name := strings.TrimSpace(parts[0])
	if strings.Contains(name, ":") {
		// bun allows the first element to be an option, e.g. `bun:"rel:belongs-to"`.
		key, value, _ := strings.Cut(name, ":")
		opts[key] = value
		name = ""
	}
	return name, opts
}

func indirect(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Ptr {
		return t.Elem()
	}
	return t
}

func isInteger(t reflect.Type) bool {
	switch indirect(t).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return false
	}
}

// underscore converts a Go field name to bun's default column name.
func underscore(s string) string {
	r := make([]byte, 0, len(s)+5)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUpper(c) {
			if i > 0 && i+1 < len(s) && (isLower(s[i-1]) || isLower(s[i+1])) {
				r = append(r, '_', c+32)
			} else {
				r = append(r, c+32)
			}
		} else {
			r = append(r, c)
		}
	}
	return string(r)
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }

func isLower(c byte) bool { return c >= 'a' && c <= 'z' }
