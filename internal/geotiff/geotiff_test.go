package geotiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/klauspost/compress/zlib"
)

type entry struct {
	tag, typ uint16
	count    uint32
	value    uint32 // inline value, or offset patched by the builder
	payload  []byte // out-of-line payload
}

// buildTIFF assembles a single-IFD TIFF. Entries with a payload get it
// appended after the IFD and their value set to its offset.
func buildTIFF(order binary.ByteOrder, entries []entry) []byte {
	var buf bytes.Buffer
	if order == binary.LittleEndian {
		buf.WriteString("II")
	} else {
		buf.WriteString("MM")
	}
	_ = binary.Write(&buf, order, uint16(42))
	_ = binary.Write(&buf, order, uint32(8))

	ifdSize := 2 + 12*len(entries) + 4
	next := uint32(8 + ifdSize)
	for i := range entries {
		if entries[i].payload != nil {
			entries[i].value = next
			next += uint32(len(entries[i].payload))
		}
	}
	_ = binary.Write(&buf, order, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&buf, order, e.tag)
		_ = binary.Write(&buf, order, e.typ)
		_ = binary.Write(&buf, order, e.count)
		if e.typ == 3 && e.count == 1 && e.payload == nil {
			_ = binary.Write(&buf, order, uint16(e.value))
			_ = binary.Write(&buf, order, uint16(0))
		} else {
			_ = binary.Write(&buf, order, e.value)
		}
	}
	_ = binary.Write(&buf, order, uint32(0))
	for _, e := range entries {
		buf.Write(e.payload)
	}
	return buf.Bytes()
}

func doublesPayload(order binary.ByteOrder, v ...float64) []byte {
	var b bytes.Buffer
	for _, f := range v {
		_ = binary.Write(&b, order, math.Float64bits(f))
	}
	return b.Bytes()
}

func geoEntries(order binary.ByteOrder, w, h int, bits, format, compression uint16, stripLen int) []entry {
	return []entry{
		{tag: tagWidth, typ: 3, count: 1, value: uint32(w)},
		{tag: tagHeight, typ: 3, count: 1, value: uint32(h)},
		{tag: tagBitsPerSample, typ: 3, count: 1, value: uint32(bits)},
		{tag: tagCompression, typ: 3, count: 1, value: uint32(compression)},
		// Strip offset patched by the caller.
		{tag: tagStripOffsets, typ: 4, count: 1},
		{tag: tagRowsPerStrip, typ: 4, count: 1, value: uint32(h)},
		{tag: tagStripByteCounts, typ: 4, count: 1, value: uint32(stripLen)},
		{tag: tagSampleFormat, typ: 3, count: 1, value: uint32(format)},
		{tag: tagModelPixelScale, typ: 12, count: 3, payload: doublesPayload(order, 0.001, 0.001, 0)},
		{tag: tagModelTiepoint, typ: 12, count: 6, payload: doublesPayload(order, 0, 0, 0, -105.3, 40.02, 0)},
	}
}

// withStrip appends strip bytes and points StripOffsets at them.
func withStrip(order binary.ByteOrder, entries []entry, strip []byte) []byte {
	head := buildTIFF(order, entries)
	off := uint32(len(head))
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			entries[i].value = off
		}
	}
	out := buildTIFF(order, entries)
	return append(out, strip...)
}

func TestParseAndReadFloat32(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		var strip bytes.Buffer
		want := []float32{1.5, 2.5, -3, 4, 5, 6}
		for _, v := range want {
			_ = binary.Write(&strip, order, math.Float32bits(v))
		}
		data := withStrip(order, geoEntries(order, 3, 2, 32, SampleFloat, CompressionNone, strip.Len()), strip.Bytes())

		info, err := Parse(data)
		if err != nil {
			t.Fatalf("%v: Parse() error = %v", order, err)
		}
		if info.Width != 3 || info.Height != 2 || info.RowsPerStrip != 2 || !info.HasGeo {
			t.Fatalf("%v: Parse() = %+v", order, info)
		}
		b := info.Bounds()
		if math.Abs(b.MinLon+105.3) > 1e-9 || math.Abs(b.MaxLon+105.297) > 1e-9 ||
			math.Abs(b.MaxLat-40.02) > 1e-9 || math.Abs(b.MinLat-40.018) > 1e-9 {
			t.Errorf("%v: Bounds() = %+v", order, b)
		}
		got := ReadElevation(data, info)
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%v: elev[%d] = %v, want %v", order, i, got[i], want[i])
			}
		}
	}
}

func TestReadDeflateInt16(t *testing.T) {
	order := binary.LittleEndian
	var raw bytes.Buffer
	want := []int16{-10, 0, 10, 32000}
	for _, v := range want {
		_ = binary.Write(&raw, order, v)
	}
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, _ = zw.Write(raw.Bytes())
	_ = zw.Close()

	data := withStrip(order, geoEntries(order, 2, 2, 16, SampleInt, CompressionDeflate, z.Len()), z.Bytes())
	info, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := ReadElevation(data, info)
	for i := range want {
		if got[i] != float32(want[i]) {
			t.Errorf("elev[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReadCorruptDeflateLeavesZeros(t *testing.T) {
	order := binary.LittleEndian
	junk := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	data := withStrip(order, geoEntries(order, 2, 2, 16, SampleUint, CompressionDeflate, len(junk)), junk)
	info, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	for i, v := range ReadElevation(data, info) {
		if v != 0 {
			t.Errorf("elev[%d] = %v, want 0", i, v)
		}
	}
}

func TestUnsupportedCompressionIsZero(t *testing.T) {
	order := binary.LittleEndian
	strip := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	data := withStrip(order, geoEntries(order, 2, 2, 16, SampleUint, 32773, len(strip)), strip)
	info, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	for i, v := range ReadElevation(data, info) {
		if v != 0 {
			t.Errorf("elev[%d] = %v, want 0", i, v)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", []byte("II"), ErrTruncated},
		{"bad bom", []byte("XX*\x00\x08\x00\x00\x00"), ErrNotTIFF},
		{"bad magic", []byte("II\x2b\x00\x08\x00\x00\x00"), ErrNotTIFF},
		{"ifd out of range", []byte("II\x2a\x00\xff\x00\x00\x00"), ErrTruncated},
		{"no raster", buildTIFF(binary.LittleEndian, nil), ErrNoRaster},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}
