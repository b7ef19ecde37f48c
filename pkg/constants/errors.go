package constants

import (
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrSync              = errors.New("collection sync failed")
	ErrNotFound          = errors.New("record not found in the current snapshot")
	ErrStoreWriteFailed  = errors.New("store rejected a field update")
	ErrPartialFailure    = errors.New("some records were not written")
	ErrMixedCollections  = errors.New("records belong to different collections")
	ErrUnknownCollection = errors.New("unknown collection type")
	ErrInvalidDirection  = errors.New("direction must be up or down")
	ErrMoveInFlight      = errors.New("a move is already in flight for this collection")
	ErrReadOnly          = errors.New("operation denied: store is in read-only mode")
	ErrUnsupportedField  = errors.New("field cannot be updated through this store")
	ErrNotStarted        = errors.New("view has not been started")
	ErrInvalidPayload    = errors.New("invalid record payload")
	ErrKeySpaceExhausted = errors.New("no order key left above the highest key, run a repair")
)

// SyncError reports that a subscription or query could not be established or refreshed.
type SyncError struct {
	Collection string
	// Op is one of "subscribe", "query" or "refresh".
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *SyncError) Unwrap() []error {
	return []error{ErrSync, e.Err}
}

// WriteFailure is one rejected field update.
type WriteFailure struct {
	ID  string
	Err error
}

// StoreWriteFailedError is returned by a move when one or both of its field updates were
// rejected. Updates listed in Applied were committed and are not rolled back.
type StoreWriteFailedError struct {
	Collection string
	Applied    []string
	Failed     []WriteFailure
}

func (e *StoreWriteFailedError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		parts[i] = fmt.Sprintf("%s (%v)", f.ID, f.Err)
	}
	return fmt.Sprintf("%s: %s: failed %s, applied [%s]",
		ErrStoreWriteFailed, e.Collection, strings.Join(parts, ", "), strings.Join(e.Applied, ", "))
}

func (e *StoreWriteFailedError) Unwrap() []error {
	return unwrapFailures(ErrStoreWriteFailed, e.Failed)
}

// PartialFailureError is returned by a backfill or repair that wrote some but not all records.
type PartialFailureError struct {
	Collection string
	Succeeded  []string
	Failed     []WriteFailure
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: %s: %d written, %d failed", ErrPartialFailure, e.Collection, len(e.Succeeded), len(e.Failed))
}

func (e *PartialFailureError) Unwrap() []error {
	return unwrapFailures(ErrPartialFailure, e.Failed)
}

func unwrapFailures(sentinel error, failed []WriteFailure) []error {
	errs := make([]error, 0, len(failed)+1)
	errs = append(errs, sentinel)
	for _, f := range failed {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}
