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

package repository

import (
	"fmt"
	"math"
	"reflect"

	"github.com/tomoncle/sqlrepo/entity"
)

type change struct {
	field *entity.Field
	value interface{}
}

// resolveChanges validates every key of c and drops nil values. Keys are
// checked before the nil skip so a bad key fails even without a value.
func (r *Repository[T, P]) resolveChanges(op string, c Changes) ([]change, error) {
	out := make([]change, 0, len(c))
	seen := make(map[string]string, len(c))
	for _, k := range sortedKeys(c) {
		if r.schema.IsBookkeeping(k) {
			return nil, r.attrErr(op, k, errNotUpdatable)
		}
		value := c[k]
		f, ok := r.schema.Lookup(k)
		if !ok {
			var err error
			if f, value, err = r.relationChange(op, k, value); err != nil {
				return nil, err
			}
		}
		if f.PrimaryKey || f.SoftDelete {
			return nil, r.attrErr(op, k, errNotUpdatable)
		}
		if prev, dup := seen[f.Name]; dup {
			return nil, &Error{Kind: ErrCouldNotUpdateEntity, Op: op, Entity: r.schema.TypeName, Attribute: k,
				Err: fmt.Errorf("column %s is already set through %q", f.Name, prev)}
		}
		seen[f.Name] = k
		if isNil(value) {
			continue
		}
		out = append(out, change{field: f, value: value})
	}
	return out, nil
}

// relationChange turns a belongs-to relation change into a change of its
// join column holding the key of the related entity.
func (r *Repository[T, P]) relationChange(op, k string, v interface{}) (*entity.Field, interface{}, error) {
	rel, ok := r.schema.Relation(k)
	if !ok {
		return nil, nil, r.attrErr(op, k, nil)
	}
	if rel.Kind != entity.RelBelongsTo {
		return nil, nil, r.attrErr(op, k, errNotUpdatable)
	}
	f, _ := r.schema.Lookup(rel.Column)
	if isNil(v) {
		return f, nil, nil
	}
	key, err := rel.Key(v)
	if err != nil {
		return nil, nil, &Error{Kind: ErrCouldNotUpdateEntity, Op: op, Entity: r.schema.TypeName, Attribute: k, Err: err}
	}
	return f, key, nil
}

// apply writes cs into e and returns the changed column names.
func (r *Repository[T, P]) apply(e P, cs []change) ([]string, error) {
	strct := reflect.ValueOf(e).Elem()
	cols := make([]string, 0, len(cs))
	for _, c := range cs {
		fv, err := c.field.Value(strct)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.field.Name, err)
		}
		if err := assign(fv, c.value); err != nil {
			return nil, fmt.Errorf("%s: %w", c.field.Name, err)
		}
		cols = append(cols, c.field.Name)
	}
	return cols, nil
}

func assign(dst reflect.Value, v interface{}) error {
	if !dst.CanSet() {
		return fmt.Errorf("field of type %s cannot be set", dst.Type())
	}
	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if src.Kind() == reflect.Ptr && !src.IsNil() {
		return assign(dst, src.Elem().Interface())
	}
	if dst.Kind() == reflect.Ptr {
		p := reflect.New(dst.Type().Elem())
		if err := assign(p.Elem(), v); err != nil {
			return err
		}
		dst.Set(p)
		return nil
	}
	switch {
	case src.Kind() == reflect.String && dst.Kind() == reflect.String:
		dst.SetString(src.String())
		return nil
	case isNumber(src.Kind()) && isNumber(dst.Kind()):
		return setNumber(dst, src)
	}
	return fmt.Errorf("cannot assign %s to %s", src.Type(), dst.Type())
}

func setNumber(dst, src reflect.Value) error {
	overflow := fmt.Errorf("%v overflows %s", src.Interface(), dst.Type())
	switch {
	case isFloat(dst.Kind()):
		var f float64
		switch {
		case isSigned(src.Kind()):
			f = float64(src.Int())
		case isUnsigned(src.Kind()):
			f = float64(src.Uint())
		default:
			f = src.Float()
		}
		if dst.OverflowFloat(f) {
			return overflow
		}
		dst.SetFloat(f)
	case isSigned(dst.Kind()):
		var n int64
		switch {
		case isSigned(src.Kind()):
			n = src.Int()
		case isUnsigned(src.Kind()):
			if src.Uint() > math.MaxInt64 {
				return overflow
			}
			n = int64(src.Uint())
		default:
			f := src.Float()
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return fmt.Errorf("%v is not representable as %s", f, dst.Type())
			}
			n = int64(f)
		}
		if dst.OverflowInt(n) {
			return overflow
		}
		dst.SetInt(n)
	default:
		var n uint64
		switch {
		case isSigned(src.Kind()):
			if src.Int() < 0 {
				return overflow
			}
			n = uint64(src.Int())
		case isUnsigned(src.Kind()):
			n = src.Uint()
		default:
			f := src.Float()
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
				return fmt.Errorf("%v is not representable as %s", f, dst.Type())
			}
			n = uint64(f)
		}
		if dst.OverflowUint(n) {
			return overflow
		}
		dst.SetUint(n)
	}
	return nil
}

func isSigned(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUnsigned(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumber(k reflect.Kind) bool {
	return isSigned(k) || isUnsigned(k) || isFloat(k)
}
