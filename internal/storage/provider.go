// Package storage defines the file-system abstraction for exported site
// pages.
package storage

import "time"

// FileMeta describes one file under the output root.
type FileMeta struct {
	Path      string
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for output directory operations. All paths are
// relative to the root.
type Provider interface {
	// List returns metadata for every regular file under dir.
	List(dir string) ([]FileMeta, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
}
