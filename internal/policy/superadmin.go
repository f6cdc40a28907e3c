package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/shared"
)

func superAdminTuple(platformID, userID string) fga.TupleKey {
	return fga.TupleKey{
		User:     fga.User(userID),
		Relation: fga.RelationSuperAdmin,
		Object:   fga.Object(fga.TypePlatform, platformID),
	}
}

// GrantSuperAdmin writes the platform super_admin tuple for userID. Writing
// an existing tuple is not an error.
func GrantSuperAdmin(ctx context.Context, client fga.Client, platformID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id required", shared.ErrValidation)
	}
	if err := client.WriteTuple(ctx, superAdminTuple(platformID, userID)); err != nil {
		return upstream("grant super admin", err)
	}
	return nil
}

// RevokeSuperAdmin deletes the platform super_admin tuple for userID.
func RevokeSuperAdmin(ctx context.Context, client fga.Client, platformID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id required", shared.ErrValidation)
	}
	if err := client.DeleteTuple(ctx, superAdminTuple(platformID, userID)); err != nil {
		return upstream("revoke super admin", err)
	}
	return nil
}

// SuperAdmins lists the users holding super_admin on the platform.
func SuperAdmins(ctx context.Context, client fga.Client, platformID string) ([]string, error) {
	tuples, err := client.ReadTuples(ctx, fga.TupleFilter{
		Relation: fga.RelationSuperAdmin,
		Object:   fga.Object(fga.TypePlatform, platformID),
	})
	if err != nil {
		return nil, upstream("read super admins", err)
	}
	users := make([]string, 0, len(tuples))
	for _, t := range tuples {
		users = append(users, strings.TrimPrefix(t.User, fga.TypeUser+":"))
	}
	return users, nil
}
