package proof

import (
	"fmt"
	"os"
	"path/filepath"

	"ticket-engine/internal/status"
)

// DiskStore persists rendered QR images under a local directory served as
// static files. The stored reference is the public path, not the filesystem
// one.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Save writes the PNG for a ticket and returns its public reference.
func (s *DiskStore) Save(ticketNumber string, png []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", status.ErrRenderFailure, err)
	}

	name := ticketNumber + ".png"
	if err := os.WriteFile(filepath.Join(s.dir, name), png, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", status.ErrRenderFailure, err)
	}

	return "/qr/" + name, nil
}
