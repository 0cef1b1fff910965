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

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tomoncle/sqlrepo/logging"
)

// Event field names.
const (
	FieldOperation   = "operation"
	FieldEntity      = "entity"
	FieldOperationID = "operation_id"
	FieldEntities    = "entities"
	FieldEntityIDs   = "entity_ids"
	FieldFilter      = "filter"
	FieldError       = "error"
	KwargPrefix      = "kwarg_"
)

type operation struct {
	name  string
	begin string
	done  string
}

var (
	opCreate           = operation{"create", "Creating", "Created"}
	opCreateBatch      = operation{"create_batch", "Batch creating", "Batch created"}
	opGet              = operation{"get", "Getting", "Got"}
	opGetAll           = operation{"get_all", "Getting all", "Got all"}
	opGetBatch         = operation{"get_batch", "Batch get", "Batch got"}
	opGetBatchByIDs    = operation{"get_batch_by_ids", "Batch get", "Batch got"}
	opFind             = operation{"find", "Finding", "Found"}
	opUpdate           = operation{"update", "Updating", "Updated"}
	opUpdateByID       = operation{"update_by_id", "Updating", "Updated"}
	opUpdateBatch      = operation{"update_batch", "Batch updating", "Batch updated"}
	opUpdateBatchByIDs = operation{"update_batch_by_ids", "Batch updating", "Batch updated"}
	opDelete           = operation{"delete", "Deleting", "Deleted"}
	opDeleteByID       = operation{"delete_by_id", "Deleting", "Deleted"}
	opDeleteBatch      = operation{"delete_batch", "Batch deleting", "Batch deleted"}
	opDeleteBatchByIDs = operation{"delete_batch_by_ids", "Batch deleting", "Batch deleted"}
)

// RedactedText replaces sensitive values found in error messages.
const RedactedText = "[REDACTED]"

// auditEvent is one event under construction. hidden keeps the text of the
// sensitive values left out of fields.
type auditEvent struct {
	fields logging.Fields
	hidden []string
}

// hide records v for scrubbing. Only textual values are kept; digits would
// match unrelated parts of a message.
func (ev *auditEvent) hide(v interface{}) {
	switch t := v.(type) {
	case string:
		if t != "" {
			ev.hidden = append(ev.hidden, t)
		}
	case *string:
		if t != nil {
			ev.hide(*t)
		}
	case []byte:
		ev.hide(string(t))
	case []interface{}:
		for _, item := range t {
			ev.hide(item)
		}
	case fmt.Stringer:
		if rv := reflect.ValueOf(t); rv.Kind() == reflect.Ptr && rv.IsNil() {
			return
		}
		ev.hide(t.String())
	}
}

// scrub replaces every hidden value in msg, longest first.
func scrub(msg string, hidden []string) string {
	if len(hidden) == 0 {
		return msg
	}
	sorted := append([]string(nil), hidden...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, h := range sorted {
		msg = strings.ReplaceAll(msg, h, RedactedText)
	}
	return msg
}

type describer func(*auditEvent) error

// observe runs fn between a begin event and a success or failure event. The
// error of fn is returned untouched; logging problems never reach the caller.
// Sensitive values of the call are scrubbed from the logged error text.
func (r *Repository[T, P]) observe(op operation, describe describer, fn func() ([]int64, error)) error {
	opID := uuid.NewString()
	begin := op.begin + " " + r.schema.TypeName

	var hidden []string
	r.emit(logrus.InfoLevel, begin, func(ev *auditEvent) error {
		defer func() { hidden = ev.hidden }()
		if describe != nil {
			if err := describe(ev); err != nil {
				return err
			}
		}
		r.common(ev.fields, op, opID)
		return nil
	})

	ids, err := fn()
	if err != nil {
		r.emit(logrus.ErrorLevel, begin+" failed", func(ev *auditEvent) error {
			r.common(ev.fields, op, opID)
			ev.fields[FieldError] = scrub(err.Error(), hidden)
			return nil
		})
		return err
	}

	r.emit(logrus.InfoLevel, op.done+" "+r.schema.TypeName, func(ev *auditEvent) error {
		r.common(ev.fields, op, opID)
		if ids == nil {
			ids = []int64{}
		}
		ev.fields[FieldEntityIDs] = ids
		return nil
	})
	return nil
}

func (r *Repository[T, P]) common(f logging.Fields, op operation, opID string) {
	f[FieldOperation] = op.name
	f[FieldEntity] = r.schema.TypeName
	f[FieldOperationID] = opID
}

func (r *Repository[T, P]) emit(level logrus.Level, event string, build describer) {
	if r.sink == nil {
		return
	}
	if err := r.tryEmit(level, event, build); err != nil {
		r.warnEmitFailure(event, err)
	}
}

func (r *Repository[T, P]) tryEmit(level logrus.Level, event string, build describer) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	ev := &auditEvent{fields: logging.Fields{}}
	if err := build(ev); err != nil {
		return err
	}
	return r.sink.Emit(level, event, ev.fields)
}

func (r *Repository[T, P]) warnEmitFailure(event string, cause error) {
	defer func() { _ = recover() }()
	_ = r.sink.Emit(logrus.WarnLevel, "Could not emit log for "+event, logging.Fields{
		FieldEntity: r.schema.TypeName,
		FieldError:  cause.Error(),
	})
}

// redacted reports whether name, a column or Go field name, must stay out
// of audit events.
func (r *Repository[T, P]) redacted(name string) bool {
	return r.schema.IsBookkeeping(name) || r.sensitiveAttr(name)
}

func (r *Repository[T, P]) sensitiveAttr(name string) bool {
	if _, ok := r.sensitive[name]; ok {
		return true
	}
	if f, ok := r.schema.Lookup(name); ok {
		_, ok = r.sensitive[f.Name]
		return ok
	}
	return false
}

func (r *Repository[T, P]) attributes(ev *auditEvent, e P) (map[string]interface{}, error) {
	if e == nil {
		return nil, fmt.Errorf("%s is nil", r.schema.TypeName)
	}
	attrs, err := r.schema.Attributes(reflect.ValueOf(e))
	if err != nil {
		return nil, err
	}
	for k, v := range attrs {
		if r.redacted(k) {
			if r.sensitiveAttr(k) {
				ev.hide(v)
			}
			delete(attrs, k)
		}
	}
	return attrs, nil
}

func (r *Repository[T, P]) describeEntity(e P) describer {
	return func(ev *auditEvent) error {
		attrs, err := r.attributes(ev, e)
		if err != nil {
			return err
		}
		for k, v := range attrs {
			ev.fields[k] = v
		}
		return nil
	}
}

func (r *Repository[T, P]) describeEntities(es []P) describer {
	return func(ev *auditEvent) error {
		entities := make([]map[string]interface{}, 0, len(es))
		for _, e := range es {
			attrs, err := r.attributes(ev, e)
			if err != nil {
				return err
			}
			entities = append(entities, attrs)
		}
		ev.fields[FieldEntities] = entities
		return nil
	}
}

func (r *Repository[T, P]) describeKwargs(kwargs map[string]interface{}) describer {
	return func(ev *auditEvent) error {
		for k, v := range kwargs {
			if r.redacted(k) {
				if r.sensitiveAttr(k) {
					ev.hide(v)
				}
				continue
			}
			ev.fields[KwargPrefix+k] = r.loggable(k, v)
		}
		return nil
	}
}

func (r *Repository[T, P]) describeFilter(filter Filter) describer {
	return func(ev *auditEvent) error {
		visible := make(Filter, 0, len(filter))
		for _, p := range filter {
			if r.redacted(p.Attribute) {
				if r.sensitiveAttr(p.Attribute) {
					ev.hide(p.Value)
				}
				continue
			}
			p.Value = r.loggable(p.Attribute, p.Value)
			visible = append(visible, p)
		}
		ev.fields[FieldFilter] = visible.String()
		return nil
	}
}

// loggable replaces related entities with their keys, nil when a key cannot
// be read.
func (r *Repository[T, P]) loggable(name string, v interface{}) interface{} {
	rel, ok := r.schema.Relation(name)
	if !ok || isNil(v) {
		return v
	}
	if vs, ok := v.([]interface{}); ok {
		keys := make([]interface{}, len(vs))
		for i, item := range vs {
			keys[i] = r.loggable(name, item)
		}
		return keys
	}
	key, err := rel.Key(v)
	if err != nil {
		return nil
	}
	return key
}

func describeAll(ds ...describer) describer {
	return func(ev *auditEvent) error {
		for _, d := range ds {
			if err := d(ev); err != nil {
				return err
			}
		}
		return nil
	}
}
