// Package fga talks to the relationship-based access control service
// (OpenFGA / Okta FGA) and mirrors the portal's authorization vocabulary.
package fga

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Object types known to the authorization model.
const (
	TypeUser      = "user"
	TypePlatform  = "platform"
	TypePartner   = "partner"
	TypeClient    = "client"
	TypeDocument  = "document"
	TypeSKU       = "sku"
	TypeSong      = "song"
	TypeGame      = "game"
	TypeMetroArea = "metro_area"
)

// Relations used by the portal.
const (
	RelationSuperAdmin       = "super_admin"
	RelationCanAdmin         = "can_admin"
	RelationCanManageMembers = "can_manage_members"
	RelationCanView          = "can_view"
	RelationCanEdit          = "can_edit"
	RelationManager          = "manager"
	RelationViewer           = "viewer"
	RelationParent           = "parent"
	RelationSupplier         = "supplier"
)

// ErrUnavailable wraps every failure reported by the FGA service.
var ErrUnavailable = errors.New("fga: authorization service error")

// TupleKey is a (user, relation, object) relationship tuple.
type TupleKey struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

func (t TupleKey) String() string {
	return t.User + "#" + t.Relation + "@" + t.Object
}

// Validate rejects tuples with missing parts or untyped identifiers.
func (t TupleKey) Validate() error {
	if t.Relation == "" {
		return errors.New("fga: tuple relation required")
	}
	if _, _, ok := SplitObject(t.User); !ok {
		return fmt.Errorf("fga: malformed tuple user %q", t.User)
	}
	if _, _, ok := SplitObject(t.Object); !ok {
		return fmt.Errorf("fga: malformed tuple object %q", t.Object)
	}
	return nil
}

// TupleFilter narrows ReadTuples. Object is required by the service; User and
// Relation are optional.
type TupleFilter struct {
	User     string
	Relation string
	Object   string
}

// Client is the contract of the external ReBAC service.
type Client interface {
	// Check answers a point authorization query.
	Check(ctx context.Context, tuple TupleKey) (bool, error)
	// WriteTuple upserts a relationship tuple. Writing an existing tuple succeeds.
	WriteTuple(ctx context.Context, tuple TupleKey) error
	// DeleteTuple removes a relationship tuple. Deleting an absent tuple succeeds.
	DeleteTuple(ctx context.Context, tuple TupleKey) error
	// ListObjects returns the ids (without type prefix) of every object of
	// objectType on which user holds relation.
	ListObjects(ctx context.Context, user, relation, objectType string) ([]string, error)
	// ReadTuples returns the stored tuples matching filter.
	ReadTuples(ctx context.Context, filter TupleFilter) ([]TupleKey, error)
}

// Object renders "<type>:<id>".
func Object(objectType, id string) string {
	return objectType + ":" + id
}

// User renders the tuple form of a principal id.
func User(id string) string {
	return Object(TypeUser, id)
}

// SplitObject splits "<type>:<id>" into its parts.
func SplitObject(object string) (objectType, id string, ok bool) {
	objectType, id, ok = strings.Cut(object, ":")
	if !ok || objectType == "" || id == "" {
		return "", "", false
	}
	return objectType, id, true
}

// MembershipTuple builds "user:<id> <role> partner:<partnerID>".
func MembershipTuple(userID, role, partnerID string) TupleKey {
	return TupleKey{User: User(userID), Relation: role, Object: Object(TypePartner, partnerID)}
}

// HierarchyTuple builds "partner:<partnerID> parent <type>:<id>".
func HierarchyTuple(partnerID, objectType, id string) TupleKey {
	return TupleKey{User: Object(TypePartner, partnerID), Relation: RelationParent, Object: Object(objectType, id)}
}

// SupplierTuple builds "partner:<partnerID> supplier sku:<id>".
func SupplierTuple(partnerID, skuID string) TupleKey {
	return TupleKey{User: Object(TypePartner, partnerID), Relation: RelationSupplier, Object: Object(TypeSKU, skuID)}
}
