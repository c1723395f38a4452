// Package geotiff reads single-band elevation rasters from strip-organised
// GeoTIFF files. Only the subset produced by common DSM exporters is
// supported: classic TIFF, uncompressed or deflate strips, and 16/32/64-bit
// samples with ModelTiepoint + ModelPixelScale georeferencing.
package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"

	"github.com/gogpu/mesh3d/internal/logging"
	"github.com/gogpu/mesh3d/tile"
)

var (
	// ErrNotTIFF is returned when the byte-order mark or magic number is wrong.
	ErrNotTIFF = errors.New("geotiff: not a TIFF file")
	// ErrTruncated is returned when a header structure lies outside the buffer.
	ErrTruncated = errors.New("geotiff: truncated")
	// ErrNoRaster is returned when width or height is missing.
	ErrNoRaster = errors.New("geotiff: missing raster dimensions")
)

const (
	tagWidth           = 256
	tagHeight          = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
)

// Compression schemes.
const (
	CompressionNone    = 1
	CompressionDeflate = 8
)

// Sample formats.
const (
	SampleUint  = 1
	SampleInt   = 2
	SampleFloat = 3
)

// Info is the parsed header of the first image directory.
type Info struct {
	Width, Height  int
	BitsPerSample  int
	SampleFormat   int
	Compression    int
	RowsPerStrip   int
	TieX, TieY     float64
	ScaleX, ScaleY float64
	HasGeo         bool

	StripOffsets    []uint64
	StripByteCounts []uint64

	order binary.ByteOrder
}

// Bounds returns the geographic extent of the raster.
func (in *Info) Bounds() tile.Bounds {
	return tile.Bounds{
		MinLon: in.TieX,
		MaxLon: in.TieX + in.ScaleX*float64(in.Width),
		MaxLat: in.TieY,
		MinLat: in.TieY - in.ScaleY*float64(in.Height),
	}
}

type ifdEntry struct {
	tag, typ uint16
	count    uint32
	raw      [4]byte // value or offset, undecoded
}

func typeSize(t uint16) int {
	switch t {
	case 3, 8:
		return 2
	case 4, 9, 11:
		return 4
	case 5, 10, 12, 16:
		return 8
	}
	return 1
}

// Parse decodes the TIFF header and first IFD. data may be a prefix of the
// file as long as it contains every referenced header array.
func Parse(data []byte) (*Info, error) {
	if len(data) < 8 {
		return nil, ErrTruncated
	}
	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}
	if magic := order.Uint16(data[2:]); magic != 42 {
		return nil, fmt.Errorf("%w: magic %d", ErrNotTIFF, magic)
	}
	ifd := uint64(order.Uint32(data[4:]))
	if ifd+2 > uint64(len(data)) {
		return nil, ErrTruncated
	}
	n := int(order.Uint16(data[ifd:]))
	info := &Info{order: order}
	p := ifd + 2
	for i := 0; i < n; i++ {
		if p+12 > uint64(len(data)) {
			break
		}
		e := ifdEntry{
			tag:   order.Uint16(data[p:]),
			typ:   order.Uint16(data[p+2:]),
			count: order.Uint32(data[p+4:]),
		}
		copy(e.raw[:], data[p+8:p+12])
		p += 12

		switch e.tag {
		case tagWidth:
			info.Width = int(info.scalar(e))
		case tagHeight:
			info.Height = int(info.scalar(e))
		case tagBitsPerSample:
			info.BitsPerSample = int(info.scalar(e))
		case tagCompression:
			info.Compression = int(info.scalar(e))
		case tagRowsPerStrip:
			info.RowsPerStrip = int(info.scalar(e))
		case tagSampleFormat:
			info.SampleFormat = int(info.scalar(e))
		case tagStripOffsets:
			info.StripOffsets = info.offsets(data, e)
		case tagStripByteCounts:
			info.StripByteCounts = info.offsets(data, e)
		case tagModelTiepoint:
			if v := info.doubles(data, e); len(v) >= 6 {
				info.TieX, info.TieY = v[3], v[4]
				info.HasGeo = true
			}
		case tagModelPixelScale:
			if v := info.doubles(data, e); len(v) >= 2 {
				info.ScaleX, info.ScaleY = v[0], v[1]
				info.HasGeo = true
			}
		}
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, ErrNoRaster
	}
	if info.RowsPerStrip <= 0 {
		info.RowsPerStrip = info.Height
	}
	return info, nil
}

// scalar reads a single inline SHORT or LONG value.
func (in *Info) scalar(e ifdEntry) uint32 {
	if e.typ == 3 {
		return uint32(in.order.Uint16(e.raw[:]))
	}
	return in.order.Uint32(e.raw[:])
}

func (in *Info) offsets(data []byte, e ifdEntry) []uint64 {
	size := typeSize(e.typ)
	total := uint64(size) * uint64(e.count)
	var src []byte
	if total <= 4 {
		src = e.raw[:total]
	} else {
		off := uint64(in.order.Uint32(e.raw[:]))
		if off+total > uint64(len(data)) {
			return nil
		}
		src = data[off : off+total]
	}
	out := make([]uint64, 0, e.count)
	for i := 0; i < int(e.count); i++ {
		b := src[i*size:]
		switch e.typ {
		case 3:
			out = append(out, uint64(in.order.Uint16(b)))
		case 4:
			out = append(out, uint64(in.order.Uint32(b)))
		case 16:
			out = append(out, in.order.Uint64(b))
		default:
			out = append(out, uint64(b[0]))
		}
	}
	return out
}

func (in *Info) doubles(data []byte, e ifdEntry) []float64 {
	if e.typ != 12 {
		return nil
	}
	off := uint64(in.order.Uint32(e.raw[:]))
	total := 8 * uint64(e.count)
	if off+total > uint64(len(data)) {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(in.order.Uint64(data[off+uint64(i)*8:]))
	}
	return out
}

// ReadElevation decodes the raster into a row-major grid. Strips that fail
// to inflate are left at zero. An unsupported compression scheme yields an
// all-zero grid.
func ReadElevation(data []byte, info *Info) []float32 {
	elev := make([]float32, info.Width*info.Height)
	if len(info.StripOffsets) == 0 {
		logging.L().Warn("geotiff: no strip offsets")
		return elev
	}
	if info.Compression != CompressionNone && info.Compression != CompressionDeflate {
		logging.L().Warn("geotiff: unsupported compression", "compression", info.Compression)
		return elev
	}
	bps := info.BitsPerSample / 8
	if bps <= 0 {
		return elev
	}
	rowBytes := info.Width * bps

	row := 0
	for s, off := range info.StripOffsets {
		if row >= info.Height {
			break
		}
		var count uint64
		if s < len(info.StripByteCounts) {
			count = info.StripByteCounts[s]
		}
		if off+count > uint64(len(data)) {
			break
		}
		rows := min(info.RowsPerStrip, info.Height-row)
		strip := data[off : off+count]
		if info.Compression == CompressionDeflate {
			inflated, err := inflate(strip, rows*rowBytes)
			if err != nil {
				logging.L().Warn("geotiff: deflate failed", "strip", s, "err", err)
				row += info.RowsPerStrip
				continue
			}
			strip = inflated
		}
		for r := 0; r < rows; r++ {
			start := r * rowBytes
			if start+rowBytes > len(strip) {
				break
			}
			info.decodeRow(strip[start:start+rowBytes], elev[(row+r)*info.Width:])
		}
		row += rows
	}
	return elev
}

func (in *Info) decodeRow(src []byte, dst []float32) {
	o := in.order
	for c := 0; c < in.Width; c++ {
		switch {
		case in.SampleFormat == SampleFloat && in.BitsPerSample == 32:
			dst[c] = math.Float32frombits(o.Uint32(src[c*4:]))
		case in.SampleFormat == SampleInt && in.BitsPerSample == 16:
			dst[c] = float32(int16(o.Uint16(src[c*2:]))) //nolint:gosec // reinterpret as signed
		case in.BitsPerSample == 16:
			dst[c] = float32(o.Uint16(src[c*2:]))
		case in.SampleFormat == SampleFloat && in.BitsPerSample == 64:
			dst[c] = float32(math.Float64frombits(o.Uint64(src[c*8:])))
		}
	}
}

func inflate(src []byte, expected int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out := make([]byte, 0, expected)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, io.LimitReader(zr, int64(expected))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
