package db

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const codeInvalidTextRepresentation = "22P02"

// IsInvalidInput reports whether Postgres rejected a parameter literal, such
// as a malformed uuid.
func IsInvalidInput(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeInvalidTextRepresentation
}

// IsNotFound reports whether err means the addressed row cannot exist: no row
// matched, or the key could not be parsed.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || IsInvalidInput(err)
}

// FilterUUIDs keeps the ids that parse as uuids, for "= ANY($n::uuid[])"
// filters fed by authorization store object ids.
func FilterUUIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if uuid.Validate(id) == nil {
			out = append(out, id)
		}
	}
	return out
}
