package npz_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/shufflegate/pkg/npz"
)

// writeArchive creates a zip container with the given member payloads.
func writeArchive(t *testing.T, path string, members map[string][]byte) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)

	for name, payload := range members {
		w, createErr := zw.Create(name)
		require.NoError(t, createErr)

		_, writeErr := w.Write(payload)
		require.NoError(t, writeErr)
	}

	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func dataFile(t *testing.T, rows int64, suffix string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data.npz")

	writeArchive(t, path, map[string][]byte{
		npz.DefaultRowKey + suffix: npz.EncodeHeader(npz.Header{Descr: "|u1", Shape: []int64{rows, 22, 46}}),
		"globalInputNC" + suffix:   npz.EncodeHeader(npz.Header{Descr: "<f4", Shape: []int64{rows, 19}}),
		"scoreDistrN" + suffix:     npz.EncodeHeader(npz.Header{Descr: "<i2", Shape: []int64{rows, 842}}),
	})

	return path
}

func TestCountRows_WithNpySuffix(t *testing.T) {
	t.Parallel()

	rows, err := npz.NewReader("").CountRows(dataFile(t, 2048, ".npy"))

	require.NoError(t, err)
	assert.Equal(t, int64(2048), rows)
}

func TestCountRows_WithoutSuffix(t *testing.T) {
	t.Parallel()

	rows, err := npz.NewReader(npz.DefaultRowKey).CountRows(dataFile(t, 17, ""))

	require.NoError(t, err)
	assert.Equal(t, int64(17), rows)
}

func TestCountRows_CustomKey(t *testing.T) {
	t.Parallel()

	path := dataFile(t, 5, ".npy")

	_, err := npz.NewReader("valueTargetsNCHW").CountRows(path)
	require.ErrorIs(t, err, npz.ErrMissingRowKey)

	rows, err := npz.NewReader("globalInputNC").CountRows(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rows)
}

func TestCountRows_BadMemberSpoilsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.npz")
	writeArchive(t, path, map[string][]byte{
		npz.DefaultRowKey + ".npy": npz.EncodeHeader(npz.Header{Descr: "|u1", Shape: []int64{9}}),
		"broken.npy":               []byte("definitely not an array"),
	})

	_, err := npz.NewReader("").CountRows(path)

	require.ErrorIs(t, err, npz.ErrBadArray)
}

func TestCountRows_NotAZip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plain.npz")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	_, err := npz.NewReader("").CountRows(path)

	require.ErrorIs(t, err, npz.ErrBadArchive)
}

func TestCountRows_EmptyArchive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.npz")
	writeArchive(t, path, nil)

	_, err := npz.NewReader("").CountRows(path)

	require.ErrorIs(t, err, npz.ErrNoArrays)
}

func TestCountRows_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := npz.NewReader("").CountRows(filepath.Join(t.TempDir(), "gone.npz"))

	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadHeader_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []npz.Header{
		{Descr: "<f4", Shape: []int64{128, 7}},
		{Descr: "|u1", FortranOrder: true, Shape: []int64{3}},
		{Descr: "<i8", Shape: nil},
	}

	for _, want := range tests {
		encoded := npz.EncodeHeader(want)
		assert.Zero(t, len(encoded)%64)

		got, err := npz.ReadHeader(bytes.NewReader(encoded))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReadHeader_Version2(t *testing.T) {
	t.Parallel()

	dict := "{'descr': '<f4', 'fortran_order': False, 'shape': (42, 3), }\n"

	var buf bytes.Buffer

	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{2, 0})
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(dict))))
	buf.WriteString(dict)

	h, err := npz.ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(42), h.Rows())
}

func TestReadHeader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{name: "short", input: []byte("\x93NU"), want: npz.ErrBadMagic},
		{name: "wrong magic", input: []byte("PK\x03\x04abcdefgh"), want: npz.ErrBadMagic},
		{name: "bad version", input: []byte("\x93NUMPY\x09\x00\x10\x00"), want: npz.ErrBadMagic},
		{name: "truncated dict", input: []byte("\x93NUMPY\x01\x00\x40\x00{'descr'"), want: npz.ErrBadHeader},
		{name: "no shape", input: withDict("{'descr': '<f4', 'fortran_order': False}"), want: npz.ErrBadHeader},
		{name: "bad dim", input: withDict("{'descr': '<f4', 'shape': (x, 2), }"), want: npz.ErrBadHeader},
		{name: "not dict", input: withDict("['shape', (1,)]"), want: npz.ErrBadHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := npz.ReadHeader(bytes.NewReader(tt.input))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func withDict(dict string) []byte {
	var buf bytes.Buffer

	buf.WriteString("\x93NUMPY\x01\x00")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(dict)))
	buf.WriteString(dict)

	return buf.Bytes()
}
