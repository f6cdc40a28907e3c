package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	badUUID := fmt.Errorf("get: %w", &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "p1"`})

	assert.True(t, IsNotFound(pgx.ErrNoRows))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)))
	assert.True(t, IsNotFound(badUUID))
	assert.True(t, IsInvalidInput(badUUID))
	assert.False(t, IsNotFound(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsNotFound(errors.New("connection reset")))
	assert.False(t, IsNotFound(nil))
}

func TestFilterUUIDs(t *testing.T) {
	id := "5f0c6a52-6f0e-4a5c-9e3a-2d6f1f0b7c11"
	assert.Equal(t, []string{id}, FilterUUIDs([]string{"p1", id, ""}))
	assert.Empty(t, FilterUUIDs(nil))
}
