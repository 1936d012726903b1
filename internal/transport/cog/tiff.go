package cog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// TIFF tags read from the first IFD.
const (
	tagNewSubfileType      = 254
	tagImageWidth          = 256
	tagImageLength         = 257
	tagModelPixelScale     = 33550
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
)

// GeoTIFF keys.
const (
	keyModelType     = 1024
	keyGeographicCRS = 2048
	keyProjectedCRS  = 3072

	modelTypeGeographic = 2
)

// Subfile type bits.
const (
	subfileReduced = 1
	subfileMask    = 4
)

const maxIFDs = 64

var (
	errNotTIFF     = errors.New("not a TIFF file")
	errNoPixelSize = errors.New("no ModelPixelScale or ModelTransformation tag")
)

// fieldSize maps TIFF field types to their byte size.
var fieldSize = map[uint16]uint64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8, 16: 8, 17: 8, 18: 8,
}

// Header is the georeferencing summary of a GeoTIFF.
type Header struct {
	Width     int
	Height    int
	ScaleX    float64
	ScaleY    float64
	ModelType int
	EPSG      int
	Overviews int
}

// Geographic reports whether pixel sizes are in degrees.
func (h Header) Geographic() bool {
	return h.ModelType == modelTypeGeographic
}

type rangeFunc func(ctx context.Context, off, n int64) ([]byte, error)

type tiffReader struct {
	fetch rangeFunc
	buf   []byte
	order binary.ByteOrder
	big   bool
}

type field struct {
	tag   uint16
	typ   uint16
	count uint64
	raw   []byte // inline value bytes, nil when stored out of line
	off   uint64
}

// at returns n bytes at off, served from the prefetched buffer when possible.
func (r *tiffReader) at(ctx context.Context, off, n uint64) ([]byte, error) {
	if off+n <= uint64(len(r.buf)) {
		return r.buf[off : off+n], nil
	}
	if off > math.MaxInt64 || n > math.MaxInt32 {
		return nil, fmt.Errorf("range %d+%d out of bounds", off, n)
	}
	data, err := r.fetch(ctx, int64(off), int64(n))
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) < n {
		return nil, fmt.Errorf("short read at %d: got %d of %d bytes", off, len(data), n)
	}
	return data[:n], nil
}

func (r *tiffReader) offsetSize() uint64 {
	if r.big {
		return 8
	}
	return 4
}

func (r *tiffReader) readOffset(b []byte) uint64 {
	if r.big {
		return r.order.Uint64(b)
	}
	return uint64(r.order.Uint32(b))
}

// parseHeader reads the TIFF header and returns the first IFD offset.
func (r *tiffReader) parseHeader(ctx context.Context) (uint64, error) {
	head, err := r.at(ctx, 0, 8)
	if err != nil {
		return 0, err
	}
	switch string(head[:2]) {
	case "II":
		r.order = binary.LittleEndian
	case "MM":
		r.order = binary.BigEndian
	default:
		return 0, errNotTIFF
	}

	switch r.order.Uint16(head[2:4]) {
	case 42:
		return uint64(r.order.Uint32(head[4:8])), nil
	case 43:
		r.big = true
		if r.order.Uint16(head[4:6]) != 8 {
			return 0, fmt.Errorf("unsupported BigTIFF offset size %d", r.order.Uint16(head[4:6]))
		}
		b, err := r.at(ctx, 8, 8)
		if err != nil {
			return 0, err
		}
		return r.order.Uint64(b), nil
	default:
		return 0, errNotTIFF
	}
}

// readIFD returns the entries of the IFD at off and the offset of the next IFD.
func (r *tiffReader) readIFD(ctx context.Context, off uint64) (map[uint16]field, uint64, error) {
	countSize, entrySize := uint64(2), uint64(12)
	if r.big {
		countSize, entrySize = 8, 20
	}

	cb, err := r.at(ctx, off, countSize)
	if err != nil {
		return nil, 0, err
	}
	var count uint64
	if r.big {
		count = r.order.Uint64(cb)
	} else {
		count = uint64(r.order.Uint16(cb))
	}
	if count == 0 || count > 4096 {
		return nil, 0, fmt.Errorf("invalid IFD entry count %d", count)
	}

	body, err := r.at(ctx, off+countSize, count*entrySize+r.offsetSize())
	if err != nil {
		return nil, 0, err
	}

	fields := make(map[uint16]field, count)
	for i := range count {
		e := body[i*entrySize : (i+1)*entrySize]
		f := field{tag: r.order.Uint16(e[0:2]), typ: r.order.Uint16(e[2:4])}
		var value []byte
		if r.big {
			f.count = r.order.Uint64(e[4:12])
			value = e[12:20]
		} else {
			f.count = uint64(r.order.Uint32(e[4:8]))
			value = e[8:12]
		}
		size, ok := fieldSize[f.typ]
		if !ok {
			continue
		}
		if size*f.count <= uint64(len(value)) {
			f.raw = value[:size*f.count]
		} else {
			f.off = r.readOffset(value)
		}
		fields[f.tag] = f
	}

	next := r.readOffset(body[count*entrySize:])
	return fields, next, nil
}

func (r *tiffReader) value(ctx context.Context, f field) ([]byte, error) {
	if f.raw != nil {
		return f.raw, nil
	}
	return r.at(ctx, f.off, fieldSize[f.typ]*f.count)
}

// uints decodes an integer field.
func (r *tiffReader) uints(ctx context.Context, f field) ([]uint64, error) {
	b, err := r.value(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, f.count)
	for i := range out {
		switch f.typ {
		case 1, 7:
			out[i] = uint64(b[i])
		case 3:
			out[i] = uint64(r.order.Uint16(b[i*2:]))
		case 4:
			out[i] = uint64(r.order.Uint32(b[i*4:]))
		case 16:
			out[i] = r.order.Uint64(b[i*8:])
		default:
			return nil, fmt.Errorf("tag %d: unsupported integer type %d", f.tag, f.typ)
		}
	}
	return out, nil
}

// doubles decodes a DOUBLE field.
func (r *tiffReader) doubles(ctx context.Context, f field) ([]float64, error) {
	if f.typ != 12 {
		return nil, fmt.Errorf("tag %d: expected DOUBLE, got type %d", f.tag, f.typ)
	}
	b, err := r.value(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]float64, f.count)
	for i := range out {
		out[i] = math.Float64frombits(r.order.Uint64(b[i*8:]))
	}
	return out, nil
}

func (r *tiffReader) scalar(ctx context.Context, fields map[uint16]field, tag uint16) (uint64, bool, error) {
	f, ok := fields[tag]
	if !ok {
		return 0, false, nil
	}
	v, err := r.uints(ctx, f)
	if err != nil || len(v) == 0 {
		return 0, false, err
	}
	return v[0], true, nil
}

// parse reads the georeferencing of the full-resolution image and counts overviews.
func parse(ctx context.Context, buf []byte, fetch rangeFunc) (Header, error) {
	r := &tiffReader{fetch: fetch, buf: buf}
	off, err := r.parseHeader(ctx)
	if err != nil {
		return Header{}, err
	}

	fields, next, err := r.readIFD(ctx, off)
	if err != nil {
		return Header{}, fmt.Errorf("read IFD: %w", err)
	}

	var h Header
	w, okW, err := r.scalar(ctx, fields, tagImageWidth)
	if err != nil {
		return Header{}, err
	}
	ht, okH, err := r.scalar(ctx, fields, tagImageLength)
	if err != nil {
		return Header{}, err
	}
	if !okW || !okH {
		return Header{}, errors.New("missing image dimensions")
	}
	h.Width, h.Height = int(w), int(ht)

	if err := r.pixelSize(ctx, fields, &h); err != nil {
		return Header{}, err
	}
	if err := r.geoKeys(ctx, fields, &h); err != nil {
		return Header{}, err
	}

	seen := map[uint64]bool{off: true}
	for i := 0; next != 0 && i < maxIFDs && !seen[next]; i++ {
		seen[next] = true
		ovr, n, err := r.readIFD(ctx, next)
		if err != nil {
			break
		}
		if st, _, _ := r.scalar(ctx, ovr, tagNewSubfileType); st&subfileReduced != 0 && st&subfileMask == 0 {
			h.Overviews++
		}
		next = n
	}
	return h, nil
}

func (r *tiffReader) pixelSize(ctx context.Context, fields map[uint16]field, h *Header) error {
	if f, ok := fields[tagModelPixelScale]; ok {
		v, err := r.doubles(ctx, f)
		if err != nil {
			return err
		}
		if len(v) < 2 {
			return fmt.Errorf("ModelPixelScale has %d values", len(v))
		}
		h.ScaleX, h.ScaleY = v[0], v[1]
		return nil
	}
	if f, ok := fields[tagModelTransformation]; ok {
		v, err := r.doubles(ctx, f)
		if err != nil {
			return err
		}
		if len(v) < 16 {
			return fmt.Errorf("ModelTransformation has %d values", len(v))
		}
		h.ScaleX = math.Hypot(v[0], v[4])
		h.ScaleY = math.Hypot(v[1], v[5])
		return nil
	}
	return errNoPixelSize
}

// geoKeys reads the model type and EPSG code from the GeoKeyDirectory.
func (r *tiffReader) geoKeys(ctx context.Context, fields map[uint16]field, h *Header) error {
	f, ok := fields[tagGeoKeyDirectory]
	if !ok {
		return nil
	}
	keys, err := r.uints(ctx, f)
	if err != nil {
		return err
	}
	if len(keys) < 4 {
		return nil
	}
	n := int(keys[3])
	for i := range n {
		base := 4 + i*4
		if base+4 > len(keys) {
			break
		}
		// location 0 means the value is stored in place
		if keys[base+1] != 0 {
			continue
		}
		switch keys[base] {
		case keyModelType:
			h.ModelType = int(keys[base+3])
		case keyProjectedCRS, keyGeographicCRS:
			if h.EPSG == 0 || keys[base] == keyProjectedCRS {
				h.EPSG = int(keys[base+3])
			}
		}
	}
	return nil
}
