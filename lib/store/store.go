// Package store defines the interface for database implementations used to persist the tracked subjects and the
// relevance filter lists of each network.
package store

import (
	"context"

	"github.com/juju/errors"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

// DB defines the methods required by the tracker.
type DB interface {
	// AddSubject saves a subject; saving an existing one is not an error.
	AddSubject(ctx context.Context, net, addr string) error
	// RemoveSubject deletes a subject, returning ErrSubjectNotFound when it was not saved.
	RemoveSubject(ctx context.Context, net, addr string) error
	// GetSubjects returns the subjects of network net in the order they were added.
	GetSubjects(ctx context.Context, net string) ([]string, error)

	SaveLists(ctx context.Context, net string, l model.FilterLists) error
	// LoadLists returns ErrDataNotFound when no lists were saved for net.
	LoadLists(ctx context.Context, net string) (model.FilterLists, error)

	Close() error
}

// Errors returned.
var (
	ErrSubjectNotFound = errors.New("store: subject was not found")
	ErrDataNotFound    = errors.New("store: data was not found")
)
