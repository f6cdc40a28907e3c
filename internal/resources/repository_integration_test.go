//go:build integration

package resources

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerportal/portal/internal/platform/db/dbtest"
)

func TestPGRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Postgres(t)
	repo := NewRepository(pool)
	label := dbtest.InsertPartner(t, pool, "label", "artist")
	supplier := dbtest.InsertPartner(t, pool, "merch", "merch_supplier")

	sku, err := repo.Create(ctx, Resource{
		PartnerID:         label,
		Kind:              KindSKU,
		Name:              "Tour shirt",
		Status:            StatusActive,
		SupplierPartnerID: supplier,
		Attributes:        json.RawMessage(`{"code":"TS-1","price_cents":2500,"currency":"EUR"}`),
		CreatedBy:         "auth0|owner",
	})
	require.NoError(t, err)
	assert.Equal(t, supplier, sku.SupplierPartnerID)

	got, err := repo.Get(ctx, KindSKU, sku.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"TS-1","price_cents":2500,"currency":"EUR"}`, string(got.Attributes))

	_, err = repo.Get(ctx, KindSong, sku.ID)
	assert.ErrorIs(t, err, ErrNotFound, "kind is part of the key")

	archived, err := repo.SetStatus(ctx, KindSKU, sku.ID, StatusArchived)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status)

	items, total, err := repo.List(ctx, ListFilter{Kind: KindSKU, PartnerID: label, Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
	items, _, err = repo.List(ctx, ListFilter{Kind: KindSKU, PartnerID: label, IncludeArchived: true, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, _, err = repo.List(ctx, ListFilter{Kind: KindSKU, IDs: []string{"not-a-uuid", sku.ID}, IncludeArchived: true, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, items, 1, "malformed object ids are skipped")

	require.NoError(t, repo.Delete(ctx, KindSKU, sku.ID))
	assert.ErrorIs(t, repo.Delete(ctx, KindSKU, sku.ID), ErrNotFound)
}

func TestPGRepositoryMalformedIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Postgres(t))

	_, err := repo.Get(ctx, KindSong, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.SetStatus(ctx, KindSong, "not-a-uuid", StatusArchived)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, KindSong, "not-a-uuid"), ErrNotFound)

	items, total, err := repo.List(ctx, ListFilter{Kind: KindSong, PartnerID: "not-a-uuid", Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}
