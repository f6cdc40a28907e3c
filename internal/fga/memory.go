package fga

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Op names a client operation for failure injection.
type Op string

const (
	OpCheck  Op = "check"
	OpWrite  Op = "write"
	OpDelete Op = "delete"
	OpList   Op = "list"
	OpRead   Op = "read"
)

const maxResolveDepth = 25

type failure struct {
	op    Op
	match func(TupleKey) bool
}

// Memory is an in-process Client evaluating a Model over stored tuples.
type Memory struct {
	mu       sync.RWMutex
	model    Model
	tuples   map[TupleKey]struct{}
	failures []failure
}

// NewMemory builds an empty store for model (PortalModel when nil).
func NewMemory(model Model) *Memory {
	if model == nil {
		model = PortalModel
	}
	return &Memory{model: model, tuples: make(map[TupleKey]struct{})}
}

// InjectFailure makes every op on a tuple accepted by match fail. A nil match
// fails every call of op.
func (m *Memory) InjectFailure(op Op, match func(TupleKey) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, failure{op: op, match: match})
}

// ClearFailures removes every injected failure.
func (m *Memory) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = nil
}

// Tuples returns a sorted snapshot of the stored tuples.
func (m *Memory) Tuples() []TupleKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TupleKey, 0, len(m.tuples))
	for t := range m.tuples {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (m *Memory) failed(op Op, t TupleKey) error {
	for _, f := range m.failures {
		if f.op == op && (f.match == nil || f.match(t)) {
			return fmt.Errorf("%w: injected %s failure for %s", ErrUnavailable, op, t)
		}
	}
	return nil
}

// Check implements Client.
func (m *Memory) Check(ctx context.Context, tuple TupleKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failed(OpCheck, tuple); err != nil {
		return false, err
	}
	if err := tuple.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return m.resolve(tuple.User, tuple.Relation, tuple.Object, 0), nil
}

// WriteTuple implements Client.
func (m *Memory) WriteTuple(ctx context.Context, tuple TupleKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed(OpWrite, tuple); err != nil {
		return err
	}
	if err := m.validateWrite(tuple); err != nil {
		return err
	}
	m.tuples[tuple] = struct{}{}
	return nil
}

// DeleteTuple implements Client.
func (m *Memory) DeleteTuple(ctx context.Context, tuple TupleKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failed(OpDelete, tuple); err != nil {
		return err
	}
	delete(m.tuples, tuple)
	return nil
}

// ListObjects implements Client.
func (m *Memory) ListObjects(ctx context.Context, user, relation, objectType string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	probe := TupleKey{User: user, Relation: relation, Object: objectType + ":"}
	if err := m.failed(OpList, probe); err != nil {
		return nil, err
	}
	if !m.model.HasRelation(objectType, relation) {
		return nil, fmt.Errorf("%w: relation %s not defined on %s", ErrUnavailable, relation, objectType)
	}
	seen := make(map[string]struct{})
	var ids []string
	for t := range m.tuples {
		typ, id, ok := SplitObject(t.Object)
		if !ok || typ != objectType {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if m.resolve(user, relation, t.Object, 0) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ReadTuples implements Client. An Object of the form "<type>:" matches every
// object of that type.
func (m *Memory) ReadTuples(ctx context.Context, filter TupleFilter) ([]TupleKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	probe := TupleKey{User: filter.User, Relation: filter.Relation, Object: filter.Object}
	if err := m.failed(OpRead, probe); err != nil {
		return nil, err
	}
	var out []TupleKey
	for t := range m.tuples {
		if filter.User != "" && t.User != filter.User {
			continue
		}
		if filter.Relation != "" && t.Relation != filter.Relation {
			continue
		}
		if filter.Object != "" {
			if strings.HasSuffix(filter.Object, ":") {
				if !strings.HasPrefix(t.Object, filter.Object) {
					continue
				}
			} else if t.Object != filter.Object {
				continue
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (m *Memory) validateWrite(t TupleKey) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	objectType, _, _ := SplitObject(t.Object)
	rw, ok := m.model[objectType][t.Relation]
	if !ok || !rw.Direct {
		return fmt.Errorf("%w: relation %s on %s is not directly assignable", ErrUnavailable, t.Relation, objectType)
	}
	return nil
}

func (m *Memory) resolve(user, relation, object string, depth int) bool {
	if depth > maxResolveDepth {
		return false
	}
	objectType, _, ok := SplitObject(object)
	if !ok {
		return false
	}
	rw, ok := m.model[objectType][relation]
	if !ok {
		return false
	}
	if rw.Direct {
		if _, ok := m.tuples[TupleKey{User: user, Relation: relation, Object: object}]; ok {
			return true
		}
	}
	for _, computed := range rw.Computed {
		if m.resolve(user, computed, object, depth+1) {
			return true
		}
	}
	for _, ttu := range rw.TupleToUserset {
		for t := range m.tuples {
			if t.Object != object || t.Relation != ttu.Tupleset {
				continue
			}
			if m.resolve(user, ttu.Computed, t.User, depth+1) {
				return true
			}
		}
	}
	return false
}
