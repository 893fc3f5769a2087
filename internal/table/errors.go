package table

import (
	"errors"

	"github.com/hupe1980/recstore"
	"github.com/hupe1980/recstore/internal/arena"
	"github.com/hupe1980/recstore/internal/blob"
	"github.com/hupe1980/recstore/internal/container"
	"github.com/hupe1980/recstore/internal/segio"
	"github.com/hupe1980/recstore/resource"
)

// Wrap classifies an error from the storage layers and wraps it as a
// *recstore.Error. Errors that already carry a kind pass through.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return recstore.Wrap(Kind(err), op, err)
}

// Kind maps a storage error onto the recstore taxonomy.
func Kind(err error) error {
	switch {
	case errors.Is(err, segio.ErrInvalidFormat):
		return recstore.ErrInvalidFormat
	case errors.Is(err, segio.ErrCorrupt):
		return recstore.ErrFileCorrupt
	case errors.Is(err, container.ErrNoMemory),
		errors.Is(err, arena.ErrAllocationFailed),
		errors.Is(err, resource.ErrMemoryLimitExceeded),
		errors.Is(err, segio.ErrOutOfRange):
		return recstore.ErrNoMemory
	case errors.Is(err, container.ErrInvalidID),
		errors.Is(err, blob.ErrInvalidID),
		errors.Is(err, blob.ErrTooLarge):
		return recstore.ErrInvalidArgument
	case errors.Is(err, blob.ErrFull):
		return recstore.ErrNotEnoughSpace
	}
	return recstore.ErrIO
}
