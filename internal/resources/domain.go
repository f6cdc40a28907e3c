// Package resources implements the partner-scoped catalog entities: clients,
// documents, SKUs, songs and games. Every row owned by a partner is linked to
// it by a hierarchy tuple so that partner members inherit access.
package resources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/shared"
)

// Kind names a resource type. Kinds double as FGA object types.
type Kind string

const (
	KindClient   Kind = fga.TypeClient
	KindDocument Kind = fga.TypeDocument
	KindSKU      Kind = fga.TypeSKU
	KindSong     Kind = fga.TypeSong
	KindGame     Kind = fga.TypeGame
)

// Kinds lists every resource kind in route order.
var Kinds = []Kind{KindClient, KindDocument, KindSKU, KindSong, KindGame}

// Plural is the collection segment used in routes.
func (k Kind) Plural() string { return string(k) + "s" }

// Status of a resource row.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Resource is one catalog row.
type Resource struct {
	ID                string          `json:"id"`
	PartnerID         string          `json:"partner_id"`
	Kind              Kind            `json:"kind"`
	Name              string          `json:"name"`
	Status            Status          `json:"status"`
	SupplierPartnerID string          `json:"supplier_partner_id,omitempty"`
	Attributes        json.RawMessage `json:"attributes"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Mutation is the response of a write. Warnings carry deferred tuple
// mutations; the write itself succeeded.
type Mutation struct {
	Resource
	Warnings []string `json:"warnings,omitempty"`
}

// CreateInput is the body of POST /partners/{id}/{kind}s.
type CreateInput struct {
	Name              string          `json:"name" validate:"required,max=200"`
	SupplierPartnerID string          `json:"supplier_partner_id,omitempty" validate:"omitempty,uuid"`
	Attributes        json.RawMessage `json:"attributes,omitempty"`
}

// UpdateInput is the body of PUT /{kind}s/{id}. Nil fields are kept; an empty
// SupplierPartnerID removes the supplier.
type UpdateInput struct {
	Name              *string         `json:"name,omitempty" validate:"omitnil,min=1,max=200"`
	SupplierPartnerID *string         `json:"supplier_partner_id,omitempty" validate:"omitnil,omitempty,uuid"`
	Attributes        json.RawMessage `json:"attributes,omitempty"`
}

// ListFilter narrows List.
type ListFilter struct {
	Kind      Kind
	PartnerID string
	// IDs restricts the result unless All is set or PartnerID is given.
	IDs             []string
	All             bool
	IncludeArchived bool
	Limit           int
	Offset          int
}

// ClientAttributes describe a partner's customer.
type ClientAttributes struct {
	ContactName  string `json:"contact_name,omitempty" validate:"max=120"`
	ContactEmail string `json:"contact_email,omitempty" validate:"omitempty,email"`
	Phone        string `json:"phone,omitempty" validate:"omitempty,e164"`
	Website      string `json:"website,omitempty" validate:"omitempty,http_url"`
}

// DocumentAttributes describe a stored file.
type DocumentAttributes struct {
	URL       string `json:"url" validate:"required,http_url"`
	MimeType  string `json:"mime_type,omitempty" validate:"omitempty,max=100"`
	SizeBytes int64  `json:"size_bytes,omitempty" validate:"gte=0"`
}

// SKUAttributes describe a merchandise item.
type SKUAttributes struct {
	Code       string `json:"code" validate:"required,max=64,printascii"`
	PriceCents int64  `json:"price_cents" validate:"gte=0"`
	Currency   string `json:"currency" validate:"required,iso4217"`
	Stock      int    `json:"stock,omitempty" validate:"gte=0"`
}

// SongAttributes describe a recording.
type SongAttributes struct {
	Artist          string `json:"artist" validate:"required,max=200"`
	ISRC            string `json:"isrc,omitempty" validate:"omitempty,len=12,alphanum"`
	DurationSeconds int    `json:"duration_seconds" validate:"required,gt=0"`
	Genre           string `json:"genre,omitempty" validate:"max=60"`
}

// GameAttributes describe a game title.
type GameAttributes struct {
	Platforms   []string `json:"platforms" validate:"required,min=1,dive,oneof=pc console mobile web vr"`
	ReleaseDate string   `json:"release_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	AgeRating   string   `json:"age_rating,omitempty" validate:"omitempty,oneof=E E10 T M AO"`
}

func newAttributes(kind Kind) (any, error) {
	switch kind {
	case KindClient:
		return &ClientAttributes{}, nil
	case KindDocument:
		return &DocumentAttributes{}, nil
	case KindSKU:
		return &SKUAttributes{}, nil
	case KindSong:
		return &SongAttributes{}, nil
	case KindGame:
		return &GameAttributes{}, nil
	default:
		return nil, fmt.Errorf("resources: unknown kind %q: %w", kind, shared.ErrValidation)
	}
}

// normalizeAttributes decodes raw into the attribute struct of kind,
// validates it and returns the canonical encoding.
func normalizeAttributes(kind Kind, raw json.RawMessage) (json.RawMessage, error) {
	target, err := newAttributes(kind)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, fmt.Errorf("%w: attributes: %s", shared.ErrValidation, strings.TrimPrefix(err.Error(), "json: "))
	}
	if sku, ok := target.(*SKUAttributes); ok {
		sku.Currency = strings.ToUpper(sku.Currency)
	}
	if err := shared.ValidateStruct(target); err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	out, err := json.Marshal(target)
	if err != nil {
		return nil, err
	}
	return out, nil
}
