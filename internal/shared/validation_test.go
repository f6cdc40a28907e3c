package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStruct(t *testing.T) {
	type input struct {
		Name string `validate:"required,max=5"`
		Kind string `validate:"required,oneof=a b"`
	}
	require.NoError(t, ValidateStruct(input{Name: "ok", Kind: "a"}))

	err := ValidateStruct(input{Name: "toolong", Kind: "c"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "kind must be one of [a b]")
	assert.Contains(t, err.Error(), "name must be at most 5")
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "bjork-studios", Slugify("Björk   Studios!"))
	assert.Equal(t, "acme-co-2", Slugify("  ACME co. 2 "))
	assert.Equal(t, "", Slugify("!!!"))
}

func TestUserSafeMessage(t *testing.T) {
	assert.Equal(t, "not found", UserSafeMessage(ErrNotFound))
	assert.Equal(t, "internal error", UserSafeMessage(ErrUpstream))
	assert.Equal(t, "", UserSafeMessage(nil))
}
