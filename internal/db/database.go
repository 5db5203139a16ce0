package db

import (
	"github.com/pkg/errors"
)

// ErrNotFound is returned if nothing is found.
var ErrNotFound = errors.New("not found")

// ErrDuplicateRecord is returned when a write would violate a uniqueness constraint.
var ErrDuplicateRecord = errors.New("row already exists")

// Postgres error codes the stores react to. Obtained from:
// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
)
