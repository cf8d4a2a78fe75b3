package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Load when the state file does not exist.
var ErrNotFound = errors.New("state file not found")

// File permissions for persisted state.
const (
	filePerm = 0o644
	dirPerm  = 0o750
)

// Persister handles I/O for a specific state type stored at a fixed path.
type Persister[T any] struct {
	path  string
	codec Codec
}

// NewPersister creates a persister for the file at path using codec.
func NewPersister[T any](path string, codec Codec) *Persister[T] {
	return &Persister[T]{
		path:  path,
		codec: codec,
	}
}

// Path returns the file location.
func (p *Persister[T]) Path() string {
	return p.path
}

// Save atomically replaces the file with the encoding of state.
func (p *Persister[T]) Save(state *T) error {
	return WriteFileAtomic(p.path, p.codec, state)
}

// Load decodes the file. It returns ErrNotFound when the file is absent.
func (p *Persister[T]) Load() (*T, error) {
	var state T

	err := ReadFile(p.path, p.codec, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// ReadFile decodes the file at path into state, which must be a pointer.
func ReadFile(path string, codec Codec, state any) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, state)
	if err != nil {
		return fmt.Errorf("decode state %s: %w", path, err)
	}

	return nil
}

// WriteFileAtomic encodes state into a temporary file next to path, syncs it,
// and renames it over path so readers never observe a partial write.
func WriteFileAtomic(path string, codec Codec, state any) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}

	tmpPath := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	err = codec.Encode(tmp, state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	err = tmp.Sync()
	if err != nil {
		return fmt.Errorf("sync temp state file: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	err = os.Chmod(tmpPath, filePerm)
	if err != nil {
		return fmt.Errorf("chmod temp state file: %w", err)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	committed = true

	return nil
}
