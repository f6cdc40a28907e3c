package tuplesync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/partnerportal/portal/internal/fga"
)

// MemoryStore is an in-process Store for tests and local tooling.
type MemoryStore struct {
	mu          sync.Mutex
	partners    map[string]bool
	assignments map[[2]string]RoleAssignment
	links       map[string]ResourceLink
	outbox      []outboxRow
	nextID      int64
}

type outboxRow struct {
	OutboxEntry
	status string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		partners:    make(map[string]bool),
		assignments: make(map[[2]string]RoleAssignment),
		links:       make(map[string]ResourceLink),
	}
}

// AddPartner registers a partner; inactive partners are listed but do not
// accept grants.
func (m *MemoryStore) AddPartner(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partners[id] = active
}

// PutResource records a resource row.
func (m *MemoryStore) PutResource(l ResourceLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[l.ID] = l
}

// RemoveResource deletes a resource row.
func (m *MemoryStore) RemoveResource(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, id)
}

// PendingCount returns the number of pending outbox entries.
func (m *MemoryStore) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.outbox {
		if r.status == "pending" {
			n++
		}
	}
	return n
}

func (m *MemoryStore) PartnerExists(_ context.Context, partnerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partners[partnerID], nil
}

func (m *MemoryStore) ListPartnerIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.partners))
	for id := range m.partners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) GetAssignment(_ context.Context, partnerID, userID string) (RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[[2]string{partnerID, userID}]
	if !ok {
		return RoleAssignment{}, ErrAssignmentNotFound
	}
	return a, nil
}

func (m *MemoryStore) UpsertAssignment(_ context.Context, partnerID, userID string, role Role, status Status) (RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{partnerID, userID}
	now := time.Now().UTC()
	a, ok := m.assignments[key]
	if !ok {
		a = RoleAssignment{PartnerID: partnerID, UserID: userID, CreatedAt: now}
	}
	a.Role, a.Status, a.UpdatedAt = role, status, now
	m.assignments[key] = a
	return a, nil
}

func (m *MemoryStore) CompareAndSetRole(_ context.Context, partnerID, userID string, oldRole, newRole Role, status Status) (RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{partnerID, userID}
	a, ok := m.assignments[key]
	if !ok {
		return RoleAssignment{}, ErrAssignmentNotFound
	}
	if a.Role != oldRole {
		return RoleAssignment{}, ErrRoleMismatch
	}
	a.Role, a.Status, a.UpdatedAt = newRole, status, time.Now().UTC()
	m.assignments[key] = a
	return a, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, partnerID, userID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{partnerID, userID}
	a, ok := m.assignments[key]
	if !ok {
		return ErrAssignmentNotFound
	}
	a.Status, a.UpdatedAt = status, time.Now().UTC()
	m.assignments[key] = a
	return nil
}

func (m *MemoryStore) DeleteAssignment(_ context.Context, partnerID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments, [2]string{partnerID, userID})
	return nil
}

func (m *MemoryStore) ListAssignments(_ context.Context, partnerID string) ([]RoleAssignment, error) {
	return m.filter(func(a RoleAssignment) bool { return a.PartnerID == partnerID }), nil
}

func (m *MemoryStore) ListAssignmentsByUser(_ context.Context, userID string) ([]RoleAssignment, error) {
	return m.filter(func(a RoleAssignment) bool { return a.UserID == userID }), nil
}

func (m *MemoryStore) filter(keep func(RoleAssignment) bool) []RoleAssignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RoleAssignment
	for _, a := range m.assignments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PartnerID != out[j].PartnerID {
			return out[i].PartnerID < out[j].PartnerID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (m *MemoryStore) ListResourceLinks(_ context.Context, partnerID string) ([]ResourceLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ResourceLink
	for _, l := range m.links {
		if l.PartnerID == partnerID || l.SupplierPartnerID == partnerID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) EnqueueOutbox(_ context.Context, e OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supersede(e.Tuple)
	m.nextID++
	e.ID = m.nextID
	e.CreatedAt = time.Now().UTC()
	m.outbox = append(m.outbox, outboxRow{OutboxEntry: e, status: "pending"})
	return nil
}

func (m *MemoryStore) CancelOutbox(_ context.Context, t fga.TupleKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supersede(t)
	return nil
}

func (m *MemoryStore) supersede(t fga.TupleKey) {
	for i := range m.outbox {
		if m.outbox[i].status == "pending" && m.outbox[i].Tuple == t {
			m.outbox[i].status = "superseded"
		}
	}
}

func (m *MemoryStore) PendingOutbox(_ context.Context, limit int) ([]OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxEntry
	for _, r := range m.outbox {
		if r.status != "pending" {
			continue
		}
		out = append(out, r.OutboxEntry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CompleteOutbox(_ context.Context, id int64) error {
	return m.setOutbox(id, func(r *outboxRow) { r.status = "done" })
}

func (m *MemoryStore) FailOutbox(_ context.Context, id int64, lastError string, dead bool) error {
	return m.setOutbox(id, func(r *outboxRow) {
		r.Attempts++
		r.LastError = lastError
		if dead {
			r.status = "dead"
		}
	})
}

func (m *MemoryStore) setOutbox(id int64, fn func(*outboxRow)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outbox {
		if m.outbox[i].ID == id {
			fn(&m.outbox[i])
			return nil
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
