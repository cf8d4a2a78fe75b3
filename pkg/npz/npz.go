// Package npz counts rows in packed self-play data files. A data file is a zip
// container of packed arrays; its row count is the first dimension of the
// designated row array.
package npz

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/klauspost/compress/zip"
)

// DefaultRowKey is the array whose first dimension is the file's row count.
const DefaultRowKey = "binaryInputNCHWPacked"

const memberExtension = ".npy"

// Sentinel errors for container reading.
var (
	ErrBadArchive    = errors.New("bad zip file")
	ErrBadArray      = errors.New("bad array in file")
	ErrNoArrays      = errors.New("no arrays in file")
	ErrMissingRowKey = errors.New("row array missing")
)

// Reader reads array headers from data files.
type Reader struct {
	// RowKey names the array holding the row count. Empty means DefaultRowKey.
	RowKey string
}

// NewReader creates a Reader counting rows of rowKey.
func NewReader(rowKey string) *Reader {
	return &Reader{RowKey: rowKey}
}

// ReadHeaders returns the header of every array member keyed by member name.
// Any unreadable member makes the whole file bad.
func (r *Reader) ReadHeaders(path string) (map[string]Header, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}

		return nil, fmt.Errorf("%w: %s: %w", ErrBadArchive, path, err)
	}
	defer archive.Close()

	headers := make(map[string]Header, len(archive.File))

	for _, member := range archive.File {
		h, readErr := readMember(member)
		if readErr != nil {
			return nil, fmt.Errorf("%w: %s (array %s): %w", ErrBadArray, path, member.Name, readErr)
		}

		headers[member.Name] = h
	}

	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoArrays, path)
	}

	return headers, nil
}

// CountRows returns the number of rows in the data file at path.
func (r *Reader) CountRows(path string) (int64, error) {
	headers, err := r.ReadHeaders(path)
	if err != nil {
		return 0, err
	}

	key := r.RowKey
	if key == "" {
		key = DefaultRowKey
	}

	h, ok := headers[key]
	if !ok {
		h, ok = headers[key+memberExtension]
	}

	if !ok {
		return 0, fmt.Errorf("%w: %s in %s", ErrMissingRowKey, key, path)
	}

	return h.Rows(), nil
}

func readMember(member *zip.File) (Header, error) {
	rc, err := member.Open()
	if err != nil {
		return Header{}, fmt.Errorf("open member: %w", err)
	}
	defer rc.Close()

	return ReadHeader(rc)
}
