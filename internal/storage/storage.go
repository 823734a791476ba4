// Package storage selects a SessionStore implementation.
package storage

import (
	"fmt"

	"github.com/tjfontaine/callbridge/internal/core/ports"
	"github.com/tjfontaine/callbridge/internal/storage/memory"
	"github.com/tjfontaine/callbridge/internal/storage/sqlite"
)

// Store drivers.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Open returns the store for driver. DriverNone returns a nil store, which
// callers treat as persistence disabled.
func Open(driver, dsn string) (ports.SessionStore, error) {
	switch driver {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		if dsn == "" {
			return nil, fmt.Errorf("sqlite storage requires a path")
		}
		store, err := sqlite.New(dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
