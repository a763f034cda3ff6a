// Package localstate keeps a participant's credentials in a small JSON
// file between runs.
package localstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/DoyleJ11/planning-poker/internal/coordinator"
)

const fileName = "credentials.json"

type File struct {
	path string
	mu   sync.Mutex
}

var _ coordinator.CredentialStore = (*File)(nil)

// Open uses dir/credentials.json. dir is created on first save.
func Open(dir string) *File {
	return &File{path: filepath.Join(dir, fileName)}
}

// DefaultDir is the per-user config directory for the app.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "planning-poker"), nil
}

func (f *File) Path() string { return f.path }

func (f *File) Load() (coordinator.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var c coordinator.Credentials
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return coordinator.Credentials{}, fmt.Errorf("%s: %w", f.path, err)
	}
	return c, nil
}

// Save writes through a temp file so a crash never leaves half a file.
func (f *File) Save(c coordinator.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), fileName+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
