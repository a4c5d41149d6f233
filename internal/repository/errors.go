package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when a tenant-scoped lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when an optimistic update lost a race.
	ErrVersionConflict = errors.New("version conflict")
)

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
