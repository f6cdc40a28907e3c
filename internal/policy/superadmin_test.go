package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/shared"
)

func TestGrantAndRevokeSuperAdmin(t *testing.T) {
	ctx := context.Background()
	ev, mem := newEvaluator(t)
	root := shared.Principal{ID: "root"}

	require.NoError(t, GrantSuperAdmin(ctx, mem, platformID, "root"))
	require.NoError(t, GrantSuperAdmin(ctx, mem, platformID, "root"))
	ok, err := ev.IsSuperAdmin(ctx, root)
	require.NoError(t, err)
	assert.True(t, ok)

	users, err := SuperAdmins(ctx, mem, platformID)
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, users)

	require.NoError(t, RevokeSuperAdmin(ctx, mem, platformID, "root"))
	ok, err = ev.IsSuperAdmin(ctx, root)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGrantSuperAdminValidation(t *testing.T) {
	_, mem := newEvaluator(t)
	err := GrantSuperAdmin(context.Background(), mem, platformID, " ")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestGrantSuperAdminUpstream(t *testing.T) {
	_, mem := newEvaluator(t)
	mem.InjectFailure(fga.OpWrite, nil)
	err := GrantSuperAdmin(context.Background(), mem, platformID, "root")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUpstream))
}
