//go:build integration

package partners

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerportal/portal/internal/platform/db/dbtest"
)

func TestPGRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Postgres(t))

	p, err := repo.Create(ctx, Partner{Name: "Acme", Slug: "acme", Type: TypeTechnology, Status: StatusActive})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	_, err = repo.Create(ctx, Partner{Name: "ACME", Slug: "acme", Type: TypeArtist, Status: StatusActive})
	assert.ErrorIs(t, err, ErrDuplicateSlug)

	require.NoError(t, repo.SetOrgID(ctx, p.ID, "org_acme"))
	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "org_acme", got.Auth0OrgID)

	got.Status = StatusInactive
	updated, err := repo.Update(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, updated.Status)

	_, err = repo.Get(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGRepositoryListScopes(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Postgres(t))
	a, err := repo.Create(ctx, Partner{Name: "A", Slug: "a", Type: TypeArtist, Status: StatusActive})
	require.NoError(t, err)
	_, err = repo.Create(ctx, Partner{Name: "B", Slug: "b", Type: TypeGameStudio, Status: StatusActive})
	require.NoError(t, err)

	items, total, err := repo.List(ctx, ListFilter{IDs: []string{a.ID}, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)

	items, total, err = repo.List(ctx, ListFilter{All: true, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	items, _, err = repo.List(ctx, ListFilter{All: true, Type: TypeGameStudio, Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "B", items[0].Name)

	items, total, err = repo.List(ctx, ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}
