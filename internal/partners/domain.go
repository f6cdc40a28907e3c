// Package partners manages partner organizations, the tenants of the portal.
package partners

import (
	"time"
)

// Type is the business category of a partner.
type Type string

const (
	TypeTechnology       Type = "technology"
	TypeManufacturing    Type = "manufacturing"
	TypeArtist           Type = "artist"
	TypeMerchSupplier    Type = "merch_supplier"
	TypeGameStudio       Type = "game_studio"
	TypeFleetMaintenance Type = "fleet_maintenance"
)

// Status of a partner row. Deleting a partner deactivates it.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Partner is a tenant organization.
type Partner struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	Type       Type      `json:"type"`
	Status     Status    `json:"status"`
	Auth0OrgID string    `json:"auth0_org_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateInput is the body of POST /partners.
type CreateInput struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
	Type string `json:"type" validate:"required,oneof=technology manufacturing artist merch_supplier game_studio fleet_maintenance"`
}

// UpdateInput is the body of PUT /partners/{id}. Omitted fields are kept.
type UpdateInput struct {
	Name   *string `json:"name,omitempty" validate:"omitnil,min=2,max=120"`
	Type   *string `json:"type,omitempty" validate:"omitnil,oneof=technology manufacturing artist merch_supplier game_studio fleet_maintenance"`
	Status *string `json:"status,omitempty" validate:"omitnil,oneof=active inactive"`
}

// ListFilter narrows List.
type ListFilter struct {
	// IDs restricts the result unless All is set.
	IDs    []string
	All    bool
	Type   Type
	Limit  int
	Offset int
}

// ListResult is a page of partners.
type ListResult struct {
	Partners []Partner `json:"partners"`
	Total    int       `json:"total"`
}
