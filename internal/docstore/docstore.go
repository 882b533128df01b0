// Package docstore defines the boundary to the remote document store.
//
// A Backend offers per-document CRUD, equality-filtered ordered queries and
// a subscription primitive that delivers the full current result set on
// subscribe and again after every change touching the collection. Backends
// return pkg/platform/sentinel errors; typed translation happens one layer
// up in internal/remote.
package docstore

//go:generate mockgen -source=docstore.go -destination=mocks/mocks.go -package=mocks Backend

import (
	"context"
	"time"
)

// Collection names.
const (
	Users               = "users"
	Units               = "units"
	Templates           = "templates"
	CompletedChecklists = "completedChecklists"
	Notifications       = "notifications"
	AuditLog            = "auditLog"
)

// Collections lists every collection the application uses.
var Collections = []string{Users, Units, Templates, CompletedChecklists, Notifications, AuditLog}

// Stamped field names written by the remote adapter on every write.
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Document is a stored document: an opaque id plus its fields.
type Document struct {
	ID     string
	Fields Fields
}

// CreatedAt returns the adapter-stamped creation time, zero when absent.
func (d Document) CreatedAt() time.Time {
	return d.Fields.Time(FieldCreatedAt)
}

// UpdatedAt returns the adapter-stamped modification time, zero when absent.
func (d Document) UpdatedAt() time.Time {
	return d.Fields.Time(FieldUpdatedAt)
}

// SnapshotFunc receives a full result set. Each call replaces the previous one.
type SnapshotFunc func(docs []Document)

// ErrorFunc receives subscription failures. The subscription stays registered
// until the caller unsubscribes.
type ErrorFunc func(err error)

// Unsubscribe releases a subscription. No callback starts after it returns.
type Unsubscribe func()

// Backend is a remote document store.
type Backend interface {
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	Update(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Subscribe(ctx context.Context, collection string, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error)
}
