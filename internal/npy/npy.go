// Package npy reads and writes NumPy .npy arrays. Speaker embeddings ship as
// little-endian float arrays in C order; that is the only layout supported.
package npy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

var magic = []byte("\x93NUMPY")

// Array is a decoded .npy file. All dtypes decode to float32.
type Array struct {
	Shape []int64
	Data  []float32
}

// ElemCount returns the total number of elements.
func (a *Array) ElemCount() int {
	return len(a.Data)
}

// ReadFile reads a .npy file from disk.
func ReadFile(path string) (*Array, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("npy: read %s: %w", path, err)
	}

	arr, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("npy: %s: %w", path, err)
	}

	return arr, nil
}

// Decode parses a .npy byte blob.
func Decode(data []byte) (*Array, error) {
	if len(data) < len(magic)+4 {
		return nil, fmt.Errorf("npy: file too short (%d bytes)", len(data))
	}

	if string(data[:len(magic)]) != string(magic) {
		return nil, errors.New("npy: bad magic")
	}

	major := data[6]
	minor := data[7]

	var headerLen int

	var headerStart int

	switch {
	case major == 1:
		if len(data) < 10 {
			return nil, errors.New("npy: truncated v1 header length")
		}

		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		headerStart = 10
	case major == 2:
		if len(data) < 12 {
			return nil, errors.New("npy: truncated v2 header length")
		}

		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		headerStart = 12
	default:
		return nil, fmt.Errorf("npy: unsupported version %d.%d", major, minor)
	}

	headerEnd := headerStart + headerLen
	if headerEnd > len(data) {
		return nil, fmt.Errorf("npy: header length %d exceeds file size %d", headerLen, len(data))
	}

	descr, fortran, shape, err := parseHeader(string(data[headerStart:headerEnd]))
	if err != nil {
		return nil, err
	}

	if fortran {
		return nil, errors.New("npy: fortran order is not supported")
	}

	elemBytes, err := descrBytes(descr)
	if err != nil {
		return nil, err
	}

	count := int64(1)
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("npy: negative dimension in shape %v", shape)
		}

		count *= d
	}

	payload := data[headerEnd:]
	if int64(len(payload)) < count*int64(elemBytes) {
		return nil, fmt.Errorf("npy: payload has %d bytes, need %d", len(payload), count*int64(elemBytes))
	}

	out := make([]float32, count)

	switch descr {
	case "<f4":
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
	case "<f8":
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(payload[i*8:])))
		}
	case "<f2":
		for i := range out {
			out[i] = float16ToFloat32(binary.LittleEndian.Uint16(payload[i*2:]))
		}
	default:
		return nil, fmt.Errorf("npy: unsupported descr %q", descr)
	}

	return &Array{Shape: shape, Data: out}, nil
}

// parseHeader extracts descr, fortran_order, and shape from the Python dict
// literal NumPy writes. The dict uses a fixed key set, so a scan for each key
// is enough; no general Python parsing.
func parseHeader(header string) (descr string, fortran bool, shape []int64, err error) {
	descr, err = extractQuoted(header, "'descr':")
	if err != nil {
		return "", false, nil, err
	}

	orderIdx := strings.Index(header, "'fortran_order':")
	if orderIdx < 0 {
		return "", false, nil, errors.New("npy: header missing fortran_order")
	}

	rest := strings.TrimSpace(header[orderIdx+len("'fortran_order':"):])
	fortran = strings.HasPrefix(rest, "True")

	shape, err = extractShape(header)
	if err != nil {
		return "", false, nil, err
	}

	return descr, fortran, shape, nil
}

func extractQuoted(header, key string) (string, error) {
	idx := strings.Index(header, key)
	if idx < 0 {
		return "", fmt.Errorf("npy: header missing %s", strings.Trim(key, "':"))
	}

	rest := header[idx+len(key):]

	open := strings.Index(rest, "'")
	if open < 0 {
		return "", errors.New("npy: malformed header value")
	}

	closeIdx := strings.Index(rest[open+1:], "'")
	if closeIdx < 0 {
		return "", errors.New("npy: malformed header value")
	}

	return rest[open+1 : open+1+closeIdx], nil
}

func extractShape(header string) ([]int64, error) {
	idx := strings.Index(header, "'shape':")
	if idx < 0 {
		return nil, errors.New("npy: header missing shape")
	}

	rest := header[idx+len("'shape':"):]

	open := strings.Index(rest, "(")
	if open < 0 {
		return nil, errors.New("npy: malformed shape")
	}

	closeIdx := strings.Index(rest, ")")
	if closeIdx < open {
		return nil, errors.New("npy: malformed shape")
	}

	inner := rest[open+1 : closeIdx]

	var shape []int64

	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		d, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("npy: bad shape dimension %q: %w", part, err)
		}

		shape = append(shape, d)
	}

	return shape, nil
}

func descrBytes(descr string) (int, error) {
	switch descr {
	case "<f4":
		return 4, nil
	case "<f8":
		return 8, nil
	case "<f2":
		return 2, nil
	default:
		return 0, fmt.Errorf("npy: unsupported descr %q", descr)
	}
}

// Encode serializes a float32 array as a v1.0 .npy blob with descr <f4.
func Encode(arr *Array) ([]byte, error) {
	if arr == nil {
		return nil, errors.New("npy: nil array")
	}

	count := int64(1)
	for _, d := range arr.Shape {
		if d < 0 {
			return nil, fmt.Errorf("npy: negative dimension in shape %v", arr.Shape)
		}

		count *= d
	}

	if int64(len(arr.Data)) != count {
		return nil, fmt.Errorf("npy: shape %v expects %d elements, got %d", arr.Shape, count, len(arr.Data))
	}

	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': %s, }", shapeTuple(arr.Shape))

	// Total header block (magic + version + length + dict + newline) is
	// padded with spaces to a multiple of 64.
	base := len(magic) + 2 + 2
	padded := base + len(header) + 1
	if rem := padded % 64; rem != 0 {
		padded += 64 - rem
	}

	headerLen := padded - base
	if headerLen > math.MaxUint16 {
		return nil, errors.New("npy: header too long for v1.0")
	}

	out := make([]byte, 0, padded+len(arr.Data)*4)
	out = append(out, magic...)
	out = append(out, 1, 0)
	out = binary.LittleEndian.AppendUint16(out, uint16(headerLen))
	out = append(out, header...)

	for len(out) < padded-1 {
		out = append(out, ' ')
	}

	out = append(out, '\n')

	for _, v := range arr.Data {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}

	return out, nil
}

// WriteFile writes a float32 array to a .npy file.
func WriteFile(path string, arr *Array) error {
	data, err := Encode(arr)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("npy: write %s: %w", path, err)
	}

	return nil
}

func shapeTuple(shape []int64) string {
	if len(shape) == 0 {
		return "()"
	}

	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.FormatInt(d, 10)
	}

	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}

	return "(" + strings.Join(parts, ", ") + ")"
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h & 0x03ff)

	var bits uint32

	switch exp {
	case 0:
		if frac == 0 {
			bits = sign << 31
		} else {
			e := int32(-14)

			for (frac & 0x0400) == 0 {
				frac <<= 1
				e--
			}

			frac &= 0x03ff
			bits = (sign << 31) | (uint32(e+127) << 23) | (frac << 13)
		}
	case 0x1f:
		bits = (sign << 31) | 0x7f800000 | (frac << 13)
	default:
		bits = (sign << 31) | ((exp + 112) << 23) | (frac << 13)
	}

	return math.Float32frombits(bits)
}
