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
	"reflect"
	"sort"
	"strings"
)

type Operator int

const (
	OpEq Operator = iota
	OpIn
)

func (o Operator) String() string {
	switch o {
	case OpEq:
		return "="
	case OpIn:
		return "IN"
	default:
		return fmt.Sprintf("Operator(%d)", int(o))
	}
}

// Predicate selects entities by one attribute. For OpIn, Value is a
// []interface{}.
type Predicate struct {
	Attribute string
	Op        Operator
	Value     interface{}
}

// Eq matches entities whose attribute equals value. A nil value matches NULL.
func Eq(attribute string, value interface{}) Predicate {
	return Predicate{Attribute: attribute, Op: OpEq, Value: value}
}

// In matches entities whose attribute is one of values.
func In[V any](attribute string, values []V) Predicate {
	vs := make([]interface{}, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Predicate{Attribute: attribute, Op: OpIn, Value: vs}
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %v", p.Attribute, p.Op, p.Value)
}

// Filter is an ordered conjunction of predicates. An empty Filter matches
// every entity.
type Filter []Predicate

// Empty reports whether the filter can match nothing, i.e. it holds an IN
// predicate over an empty set.
func (f Filter) Empty() bool {
	for _, p := range f {
		if p.Op != OpIn {
			continue
		}
		if vs, ok := p.Value.([]interface{}); ok && len(vs) == 0 {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	parts := make([]string, len(f))
	for i, p := range f {
		parts[i] = p.String()
	}
	return strings.Join(parts, " AND ")
}

// Attributes is an attribute to value mapping used by Find. Keys may be
// column names or Go field names.
type Attributes map[string]interface{}

// Filter turns a into equality predicates in sorted key order.
func (a Attributes) Filter() Filter {
	keys := sortedKeys(a)
	f := make(Filter, 0, len(keys))
	for _, k := range keys {
		f = append(f, Eq(k, a[k]))
	}
	return f
}

// Changes is a sparse update. A nil value, whether an untyped nil or a nil
// pointer, map or slice, means "leave unchanged"; Changes cannot set a
// column to NULL.
type Changes map[string]interface{}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
