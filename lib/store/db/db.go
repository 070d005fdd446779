// Package db implements the opening of database connections.
package db

import (
	"github.com/juju/errors"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store/memory"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store/mongo"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store/postgres"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store/redis"
)

// Supported database types.
const (
	MEMORY   string = "memory"
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	REDIS    string = "redis"
)

// Types lists the supported database types.
var Types = []string{MEMORY, MONGODB, POSTGRES, REDIS}

// ErrUnknownType is returned for unsupported database types.
var ErrUnknownType = errors.New("db: unknown database type")

// New returns a new database connection according to the database type.
func New(dbtype, connection string) (store.DB, error) {
	var (
		d   store.DB
		err error
	)

	switch dbtype {
	case MEMORY, "":
		return memory.New(), nil
	case MONGODB:
		d, err = mongo.New(connection)
	case POSTGRES:
		d, err = postgres.New(connection)
	case REDIS:
		d, err = redis.New(connection)
	default:
		return nil, errors.Annotatef(ErrUnknownType, "%q", dbtype)
	}

	if err != nil {
		return nil, err
	}

	return d, nil
}
