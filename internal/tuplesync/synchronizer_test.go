package tuplesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerportal/portal/internal/events"
	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/shared"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store *MemoryStore
	fga   *fga.Memory
	pub   *recordingPublisher
	sync  *Synchronizer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{store: NewMemoryStore(), fga: fga.NewMemory(nil), pub: &recordingPublisher{}}
	f.store.AddPartner("p1", true)
	f.store.AddPartner("p2", true)
	opts.Publisher = f.pub
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	f.sync = New(f.store, f.fga, opts)
	return f
}

func (f *fixture) check(t *testing.T, user, relation, object string) bool {
	t.Helper()
	ok, err := f.fga.Check(context.Background(), fga.TupleKey{User: fga.User(user), Relation: relation, Object: object})
	require.NoError(t, err)
	return ok
}

func (f *fixture) membershipTuples(partnerID string) []fga.TupleKey {
	got, _ := f.fga.ReadTuples(context.Background(), fga.TupleFilter{Object: fga.Object(fga.TypePartner, partnerID)})
	return got
}

func TestGrantRoleScenarioA(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	row, err := f.sync.GrantRole(ctx, "u1", "p1", RoleView)
	require.NoError(t, err)
	assert.Equal(t, "p1", row.PartnerID)
	assert.Equal(t, "u1", row.UserID)
	assert.Equal(t, RoleView, row.Role)
	assert.Equal(t, StatusActive, row.Status)

	stored, err := f.store.GetAssignment(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, stored.Status)
	assert.True(t, f.check(t, "u1", fga.RelationCanView, "partner:p1"))
	assert.Equal(t, []string{events.RoleGranted}, f.pub.types())
}

func TestGrantRoleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.sync.GrantRole(ctx, "u1", "p1", RoleManageMembers)
	require.NoError(t, err)
	_, err = f.sync.GrantRole(ctx, "u1", "p1", RoleManageMembers)
	require.NoError(t, err)

	rows, err := f.store.ListAssignments(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Len(t, f.membershipTuples("p1"), 1)
}

func TestGrantRoleReplacesDifferentRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.sync.GrantRole(ctx, "u1", "p1", RoleView)
	require.NoError(t, err)
	_, err = f.sync.GrantRole(ctx, "u1", "p1", RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, []fga.TupleKey{fga.MembershipTuple("u1", fga.RelationCanAdmin, "p1")}, f.membershipTuples("p1"))
}

func TestGrantRoleWriteFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.fga.InjectFailure(fga.OpWrite, nil)

	_, err := f.sync.GrantRole(ctx, "u1", "p1", RoleView)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthorizationService)
	assert.ErrorIs(t, err, shared.ErrUpstream)
	assert.ErrorIs(t, err, fga.ErrUnavailable)

	row, err := f.store.GetAssignment(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, row.Status, "row never claims a capability that was not granted")
	assert.False(t, f.check(t, "u1", fga.RelationCanView, "partner:p1"))
}

func TestRegrantDuringOutageKeepsActiveRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.sync.GrantRole(ctx, "u1", "p1", RoleView)
	require.NoError(t, err)
	f.fga.InjectFailure(fga.OpWrite, nil)

	a, err := f.sync.GrantRole(ctx, "u1", "p1", RoleView)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, a.Status)

	row, err := f.store.GetAssignment(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, row.Status)
	assert.True(t, f.check(t, "u1", fga.RelationCanView, "partner:p1"))
	assert.Equal(t, 1, f.store.PendingCount())

	report, err := f.sync.ReconcilePartner(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, report.Deleted)
	assert.True(t, f.check(t, "u1", fga.RelationCanView, "partner:p1"), "reconcile keeps the live tuple")
}

func TestGrantRoleValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.sync.GrantRole(ctx, "u1", "p1", Role("owner"))
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.sync.GrantRole(ctx, "", "p1", RoleView)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.sync.GrantRole(ctx, "u1", "missing", RoleView)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	f.store.AddPartner("gone", false)
	_, err = f.sync.GrantRole(ctx, "u1", "gone", RoleView)
	assert.ErrorIs(t, err, ErrPartnerNotFound)
	assert.Empty(t, f.fga.Tuples())
}

func TestChangeRoleScenarioB(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.sync.GrantRole(ctx, "u1", "p1", RoleView)
	require.NoError(t, err)

	row, err := f.sync.ChangeRole(ctx, "u1", "p1", RoleView, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, row.Role)
	assert.Equal(t, StatusActive, row.Status)

	assert.False(t, f.check(t, "u1", fga.RelationCanView, "partner:p1"))
	assert.True(t, f.check(t, "u1", fga.RelationCanAdmin, "partner:p1"))
}

func TestChangeRoleFailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.sync.GrantRole(ctx, "u1", "p1", RoleView)
	require.NoError(t, err)
	f.fga.InjectFailure(fga.OpWrite, func(k fga.TupleKey) bool { return k.Relation == fga.RelationCanAdmin })

	_, err = f.sync.ChangeRole(ctx, "u1", "p1", RoleView, RoleAdmin)
	require.ErrorIs(t, err, ErrAuthorizationService)

	assert.False(t, f.check(t, "u1", fga.RelationCanView, "partner:p1"))
	assert.False(t, f.check(t, "u1", fga.RelationCanAdmin, "partner:p1"))
	row, err := f.store.GetAssignment(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.NotEqual(t, StatusActive, row.Status)
}

func TestChangeRoleMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.sync.GrantRole(ctx, "u1", "p1", RoleManageMembers)
	require.NoError(t, err)

	_, err = f.sync.ChangeRole(ctx, "u1", "p1", RoleView, RoleAdmin)
	assert.ErrorIs(t, err, ErrRoleMismatch)
	assert.True(t, f.check(t, "u1", fga.RelationCanManageMembers, "partner:p1"), "mismatch leaves access untouched")

	_, err = f.sync.ChangeRole(ctx, "nobody", "p1", RoleView, RoleAdmin)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRevokeRoleScenarioC(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.sync.GrantRole(ctx, "u1", "p1", RoleView)
	require.NoError(t, err)
	_, err = f.sync.ChangeRole(ctx, "u1", "p1", RoleView, RoleAdmin)
	require.NoError(t, err)

	require.NoError(t, f.sync.RevokeRole(ctx, "u1", "p1"))

	_, err = f.store.GetAssignment(ctx, "p1", "u1")
	assert.ErrorIs(t, err, ErrAssignmentNotFound)
	for _, rel := range fga.Roles {
		assert.False(t, f.check(t, "u1", rel, "partner:p1"), rel)
	}
}

func TestRevokeRoleDeleteFailureKeepsRowInactive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.sync.GrantRole(ctx, "u1", "p1", RoleAdmin)
	require.NoError(t, err)
	f.fga.InjectFailure(fga.OpDelete, nil)

	err = f.sync.RevokeRole(ctx, "u1", "p1")
	require.ErrorIs(t, err, ErrAuthorizationService)

	row, err := f.store.GetAssignment(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, row.Status)
	assert.Equal(t, 1, f.store.PendingCount(), "delete queued for retry")

	f.fga.ClearFailures()
	res, err := f.sync.DrainOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.False(t, f.check(t, "u1", fga.RelationCanAdmin, "partner:p1"))
}

func TestRevokeRoleUnknownMember(t *testing.T) {
	f := newFixture(t, Options{})
	err := f.sync.RevokeRole(context.Background(), "u1", "p1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSuspendRoleKeepsRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	_, err := f.sync.GrantRole(ctx, "u1", "p1", RoleManageMembers)
	require.NoError(t, err)

	row, err := f.sync.SuspendRole(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, row.Status)
	assert.False(t, f.check(t, "u1", fga.RelationCanManageMembers, "partner:p1"))

	row, err = f.sync.GrantRole(ctx, "u1", "p1", RoleManageMembers)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, row.Status)
	assert.True(t, f.check(t, "u1", fga.RelationCanManageMembers, "partner:p1"))
}

func TestAttachResourceScenarioD(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.NoError(t, f.sync.AttachResource(ctx, fga.TypeClient, "c1", "p1"))
	_, err := f.sync.GrantRole(ctx, "u1", "p1", RoleView)
	require.NoError(t, err)

	ids, err := f.fga.ListObjects(ctx, fga.User("u1"), fga.RelationCanView, fga.TypeClient)
	require.NoError(t, err)
	assert.Contains(t, ids, "c1")
}

func TestAttachResourceFailureIsWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.fga.InjectFailure(fga.OpWrite, nil)

	err := f.sync.AttachResource(ctx, fga.TypeDocument, "d1", "p1")
	require.Error(t, err)
	w, ok := AsWarning(err)
	require.True(t, ok)
	assert.Equal(t, OutboxWrite, w.Op)
	assert.True(t, w.Queued)
	assert.ErrorIs(t, err, fga.ErrUnavailable)
	assert.Contains(t, f.pub.types(), events.SyncWarning)

	f.fga.ClearFailures()
	res, err := f.sync.DrainOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Applied: 1}, res)
	assert.Contains(t, f.fga.Tuples(), fga.HierarchyTuple("p1", fga.TypeDocument, "d1"))
}

func TestDetachAfterFailedAttachCancelsQueuedWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.fga.InjectFailure(fga.OpWrite, nil)
	require.Error(t, f.sync.AttachResource(ctx, fga.TypeSong, "s1", "p1"))
	f.fga.ClearFailures()

	require.NoError(t, f.sync.DetachResource(ctx, fga.TypeSong, "s1", "p1"))
	assert.Zero(t, f.store.PendingCount())

	res, err := f.sync.DrainOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
	assert.Empty(t, f.fga.Tuples())
}

func TestDrainOutboxGivesUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxOutboxAttempts: 2})
	f.fga.InjectFailure(fga.OpWrite, nil)
	require.Error(t, f.sync.AttachSupplier(ctx, "sku1", "p2"))

	res, err := f.sync.DrainOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Failed: 1}, res)

	res, err = f.sync.DrainOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Failed: 1, Dead: 1}, res)
	assert.Zero(t, f.store.PendingCount())
}

func TestConcurrentGrantsWithLockConverge(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	f := newFixture(t, Options{Locker: shared.NewRedisLocker(client, 5*time.Second)})

	roles := []Role{RoleView, RoleAdmin, RoleManageMembers, RoleView, RoleAdmin, RoleManageMembers}
	var wg sync.WaitGroup
	for _, role := range roles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sync.GrantRole(ctx, "u1", "p1", role)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	row, err := f.store.GetAssignment(ctx, "p1", "u1")
	require.NoError(t, err)
	tuples := f.membershipTuples("p1")
	require.Len(t, tuples, 1)
	assert.Equal(t, string(row.Role), tuples[0].Relation)
	assert.Equal(t, StatusActive, row.Status)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" can_admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("root")
	assert.True(t, errors.Is(err, shared.ErrValidation))
}
