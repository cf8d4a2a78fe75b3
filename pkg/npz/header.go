package npz

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Sentinel errors for array header parsing.
var (
	ErrBadMagic  = errors.New("bad array magic")
	ErrBadHeader = errors.New("bad array header")
)

const (
	magic = "\x93NUMPY"

	// headerAlign is the alignment of the preamble plus header.
	headerAlign = 64

	preambleV1 = len(magic) + 2 + 2
	preambleV2 = len(magic) + 2 + 4

	maxHeaderLen = 1 << 20
)

// Header describes one packed array member.
type Header struct {
	Descr        string
	FortranOrder bool
	Shape        []int64
}

// Rows returns the first dimension of the array, or 0 for a scalar.
func (h Header) Rows() int64 {
	if len(h.Shape) == 0 {
		return 0
	}

	return h.Shape[0]
}

// ReadHeader reads the magic, version, and header dictionary from r.
func ReadHeader(r io.Reader) (Header, error) {
	prefix := make([]byte, len(magic)+2)

	_, err := io.ReadFull(r, prefix)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrBadMagic, err)
	}

	if string(prefix[:len(magic)]) != magic {
		return Header{}, ErrBadMagic
	}

	major := prefix[len(magic)]

	var headerLen int

	switch major {
	case 1:
		var n uint16

		err = binary.Read(r, binary.LittleEndian, &n)
		headerLen = int(n)
	case 2, 3:
		var n uint32

		err = binary.Read(r, binary.LittleEndian, &n)
		headerLen = int(n)
	default:
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrBadMagic, major)
	}

	if err != nil {
		return Header{}, fmt.Errorf("%w: length: %w", ErrBadHeader, err)
	}

	if headerLen <= 0 || headerLen > maxHeaderLen {
		return Header{}, fmt.Errorf("%w: length %d", ErrBadHeader, headerLen)
	}

	raw := make([]byte, headerLen)

	_, err = io.ReadFull(r, raw)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}

	return parseDict(string(raw))
}

// EncodeHeader renders a version 1.0 preamble and header for h, padded so
// array data would start on a 64-byte boundary.
func EncodeHeader(h Header) []byte {
	dims := make([]string, len(h.Shape))
	for i, d := range h.Shape {
		dims[i] = strconv.FormatInt(d, 10)
	}

	shape := strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}

	order := "False"
	if h.FortranOrder {
		order = "True"
	}

	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': %s, 'shape': (%s), }", h.Descr, order, shape)

	pad := headerAlign - (preambleV1+len(dict)+1)%headerAlign
	if pad == headerAlign {
		pad = 0
	}

	dict += strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer

	buf.WriteString(magic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(dict))) //nolint:gosec // bounded by dict size.
	buf.WriteString(dict)

	return buf.Bytes()
}

// parseDict extracts descr, fortran_order and shape from the header literal.
func parseDict(raw string) (Header, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return Header{}, fmt.Errorf("%w: not a dict literal", ErrBadHeader)
	}

	var h Header

	descr, ok := valueAfter(s, "descr")
	if ok {
		h.Descr = quoted(descr)
	}

	order, ok := valueAfter(s, "fortran_order")
	if ok {
		h.FortranOrder = strings.HasPrefix(order, "True")
	}

	shapeLit, ok := valueAfter(s, "shape")
	if !ok || !strings.HasPrefix(shapeLit, "(") {
		return Header{}, fmt.Errorf("%w: missing shape", ErrBadHeader)
	}

	end := strings.IndexByte(shapeLit, ')')
	if end < 0 {
		return Header{}, fmt.Errorf("%w: unterminated shape", ErrBadHeader)
	}

	for part := range strings.SplitSeq(shapeLit[1:end], ",") {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), "L"))
		if part == "" {
			continue
		}

		dim, err := strconv.ParseInt(part, 10, 64)
		if err != nil || dim < 0 {
			return Header{}, fmt.Errorf("%w: shape dimension %q", ErrBadHeader, part)
		}

		h.Shape = append(h.Shape, dim)
	}

	return h, nil
}

// valueAfter returns the text following 'key': in the dict literal.
func valueAfter(s, key string) (string, bool) {
	for _, quote := range []string{"'", `"`} {
		idx := strings.Index(s, quote+key+quote)
		if idx < 0 {
			continue
		}

		rest := strings.TrimSpace(s[idx+len(key)+2:])
		if !strings.HasPrefix(rest, ":") {
			continue
		}

		return strings.TrimSpace(rest[1:]), true
	}

	return "", false
}

// quoted returns the contents of the string literal at the start of s.
func quoted(s string) string {
	if s == "" || (s[0] != '\'' && s[0] != '"') {
		return ""
	}

	end := strings.IndexByte(s[1:], s[0])
	if end < 0 {
		return ""
	}

	return s[1 : end+1]
}
