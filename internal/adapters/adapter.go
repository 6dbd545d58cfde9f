// Package adapters implements the protocol adapters that enumerate candidate
// files at a resolved location: FTP/FTPS, HTTPS and Azure Blob Storage.
//
// An adapter instance is owned by exactly one in-flight execution for its
// lifetime; adapters are not required to be safe for concurrent List calls.
// The factory builds a fresh adapter per execution.
package adapters

import (
	"context"
	"time"

	"github.com/inletworks/inlet/internal/models"
)

// FileMetadata describes one candidate file found at a source.
type FileMetadata struct {
	URL              string
	Filename         string
	Size             *int64
	LastModified     *time.Time
	ProtocolMetadata map[string]string
}

// Adapter lists candidate files at a resolved location.
type Adapter interface {
	// List enumerates files at resolvedPath whose names match
	// filenamePattern and, if non-empty, carry the given extension.
	List(ctx context.Context, resolvedPath, filenamePattern, extension string) ([]FileMetadata, error)

	// TestConnection verifies the source is reachable with the configured
	// credentials without listing anything.
	TestConnection(ctx context.Context) error

	// Protocol identifies the adapter's transport.
	Protocol() models.Protocol
}

func int64Ptr(v int64) *int64 {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
