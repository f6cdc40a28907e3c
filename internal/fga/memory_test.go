package fga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRolesAreDisjoint(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	require.NoError(t, m.WriteTuple(ctx, MembershipTuple("u1", RelationCanAdmin, "p1")))

	ok, err := m.Check(ctx, MembershipTuple("u1", RelationCanAdmin, "p1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Check(ctx, MembershipTuple("u1", RelationCanView, "p1"))
	require.NoError(t, err)
	assert.False(t, ok, "direct role relations do not imply each other")

	for _, rel := range []string{RelationViewer, RelationManager} {
		ok, err = m.Check(ctx, TupleKey{User: User("u1"), Relation: rel, Object: Object(TypePartner, "p1")})
		require.NoError(t, err)
		assert.True(t, ok, rel)
	}
}

func TestMemoryViewerIsNotManager(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	require.NoError(t, m.WriteTuple(ctx, MembershipTuple("u1", RelationCanView, "p1")))

	ok, err := m.Check(ctx, TupleKey{User: User("u1"), Relation: RelationManager, Object: Object(TypePartner, "p1")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryHierarchyInheritance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	require.NoError(t, m.WriteTuple(ctx, MembershipTuple("u1", RelationCanView, "p1")))
	require.NoError(t, m.WriteTuple(ctx, HierarchyTuple("p1", TypeClient, "c1")))
	require.NoError(t, m.WriteTuple(ctx, HierarchyTuple("p2", TypeClient, "c2")))

	ids, err := m.ListObjects(ctx, User("u1"), RelationCanView, TypeClient)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	ok, err := m.Check(ctx, TupleKey{User: User("u1"), Relation: RelationCanEdit, Object: Object(TypeClient, "c1")})
	require.NoError(t, err)
	assert.False(t, ok, "viewers cannot edit")

	require.NoError(t, m.WriteTuple(ctx, MembershipTuple("u2", RelationCanAdmin, "p1")))
	ok, err = m.Check(ctx, TupleKey{User: User("u2"), Relation: RelationCanEdit, Object: Object(TypeClient, "c1")})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemorySupplierSeesSKU(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	require.NoError(t, m.WriteTuple(ctx, HierarchyTuple("owner", TypeSKU, "s1")))
	require.NoError(t, m.WriteTuple(ctx, SupplierTuple("supplier", "s1")))
	require.NoError(t, m.WriteTuple(ctx, MembershipTuple("u9", RelationCanManageMembers, "supplier")))

	ids, err := m.ListObjects(ctx, User("u9"), RelationCanView, TypeSKU)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	ok, err := m.Check(ctx, TupleKey{User: User("u9"), Relation: RelationCanEdit, Object: Object(TypeSKU, "s1")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryWriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	tuple := MembershipTuple("u1", RelationCanView, "p1")
	require.NoError(t, m.WriteTuple(ctx, tuple))
	require.NoError(t, m.WriteTuple(ctx, tuple))
	assert.Len(t, m.Tuples(), 1)

	require.NoError(t, m.DeleteTuple(ctx, tuple))
	require.NoError(t, m.DeleteTuple(ctx, tuple))
	assert.Empty(t, m.Tuples())
}

func TestMemoryRejectsComputedWrites(t *testing.T) {
	m := NewMemory(nil)
	err := m.WriteTuple(context.Background(), TupleKey{User: User("u1"), Relation: RelationViewer, Object: Object(TypePartner, "p1")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestMemoryFailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	m.InjectFailure(OpWrite, func(t TupleKey) bool { return t.Relation == RelationCanAdmin })

	err := m.WriteTuple(ctx, MembershipTuple("u1", RelationCanAdmin, "p1"))
	require.ErrorIs(t, err, ErrUnavailable)
	require.NoError(t, m.WriteTuple(ctx, MembershipTuple("u1", RelationCanView, "p1")))

	m.ClearFailures()
	require.NoError(t, m.WriteTuple(ctx, MembershipTuple("u1", RelationCanAdmin, "p1")))
}

func TestMemoryReadTuplesByType(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	require.NoError(t, m.WriteTuple(ctx, MembershipTuple("u1", RelationCanView, "p1")))
	require.NoError(t, m.WriteTuple(ctx, MembershipTuple("u2", RelationCanAdmin, "p1")))
	require.NoError(t, m.WriteTuple(ctx, MembershipTuple("u3", RelationCanAdmin, "p2")))

	got, err := m.ReadTuples(ctx, TupleFilter{Object: Object(TypePartner, "p1")})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = m.ReadTuples(ctx, TupleFilter{Relation: RelationCanAdmin, Object: TypePartner + ":"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSplitObject(t *testing.T) {
	typ, id, ok := SplitObject("partner:abc")
	assert.True(t, ok)
	assert.Equal(t, "partner", typ)
	assert.Equal(t, "abc", id)

	_, _, ok = SplitObject("partner:")
	assert.False(t, ok)
	_, _, ok = SplitObject("nocolon")
	assert.False(t, ok)
}
