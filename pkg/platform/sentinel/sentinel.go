package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Document store backends return
// these (optionally wrapped) and the remote adapter translates them into
// domain errors.
//
//   - ErrNotFound: document does not exist in the collection
//   - ErrConflict: a write raced with another writer on the same key
//   - ErrPermission: the backend refused the write
//   - ErrUnavailable: backend temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrPermission  = errors.New("permission denied")
	ErrUnavailable = errors.New("unavailable")
)
