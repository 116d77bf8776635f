package apf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenReaderAtRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "set.apf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteSection(SectionProblemInfo, 1, []byte("problem-info")); err != nil {
		t.Fatalf("write problem info: %v", err)
	}
	if err := w.WriteSection(SectionQueryData, 1, []byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("write query data: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close writer file: %v", err)
	}

	rf, err := os.Open(path)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer func() { _ = rf.Close() }()

	st, err := rf.Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	af, err := OpenReaderAt(rf, st.Size())
	if err != nil {
		t.Fatalf("open readerat: %v", err)
	}
	defer func() {
		if cerr := af.Close(); cerr != nil {
			t.Fatalf("close apf file: %v", cerr)
		}
	}()

	if af.mmapped {
		t.Fatalf("OpenReaderAt should not mmap")
	}
	if af.Header == nil {
		t.Fatalf("missing header")
	}
	if af.Header.HeaderSize != apfHeaderSize {
		t.Fatalf("header size mismatch: got %d want %d", af.Header.HeaderSize, apfHeaderSize)
	}

	infoSec := af.Section(SectionProblemInfo)
	if infoSec == nil {
		t.Fatalf("missing problem info section")
	}
	got := af.SectionData(infoSec)
	if !bytes.Equal(got, []byte("problem-info")) {
		t.Fatalf("problem info mismatch: got %q", string(got))
	}
}

func TestHeaderAndSectionEncodingLittleEndian(t *testing.T) {
	t.Parallel()

	h := APFHeader{
		Magic:            [4]byte{'A', 'P', 'F', 0},
		Major:            0x1122,
		Minor:            0x3344,
		HeaderSize:       apfHeaderSize,
		SectionCount:     7,
		SectionDirOffset: 0x0102030405060708,
		FileSize:         0x1112131415161718,
		Flags:            0x2122232425262728,
	}
	var hdrRaw [apfHeaderSize]byte
	if !encodeHeader(hdrRaw[:], h) {
		t.Fatalf("encode header failed")
	}
	if hdrRaw[4] != 0x22 || hdrRaw[5] != 0x11 {
		t.Fatalf("major is not little-endian: %x", hdrRaw[4:6])
	}
	if hdrRaw[16] != 0x08 || hdrRaw[23] != 0x01 {
		t.Fatalf("section dir offset is not little-endian: %x", hdrRaw[16:24])
	}
	decodedH, ok := decodeHeader(hdrRaw[:])
	if !ok {
		t.Fatalf("decode header failed")
	}
	if decodedH != h {
		t.Fatalf("header round-trip mismatch: got %+v want %+v", decodedH, h)
	}

	s := APFSection{
		Type:    0x11223344,
		Version: 0x55667788,
		Offset:  0x0102030405060708,
		Size:    0x1112131415161718,
	}
	var secRaw [apfSectionSize]byte
	if !encodeSection(secRaw[:], s) {
		t.Fatalf("encode section failed")
	}
	if secRaw[0] != 0x44 || secRaw[3] != 0x11 {
		t.Fatalf("section type is not little-endian: %x", secRaw[0:4])
	}
	if secRaw[8] != 0x08 || secRaw[15] != 0x01 {
		t.Fatalf("section offset is not little-endian: %x", secRaw[8:16])
	}
	decodedS, ok := decodeSection(secRaw[:])
	if !ok {
		t.Fatalf("decode section failed")
	}
	if decodedS != s {
		t.Fatalf("section round-trip mismatch: got %+v want %+v", decodedS, s)
	}
}

func TestWriterRejectsDuplicateSection(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dup.apf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer func() { _ = f.Close() }()

	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteSection(SectionLengths, 1, []byte{1}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := w.WriteSection(SectionLengths, 1, []byte{2}); err == nil {
		t.Fatalf("duplicate section type accepted")
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := w.WriteSection(SectionQueryData, 1, []byte{3}); err == nil {
		t.Fatalf("write after finalise accepted")
	}
}

func TestSectionStartsAligned(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "align.apf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	// Odd-sized payloads force padding before the next section start.
	if err := w.WriteSection(SectionProblemInfo, 1, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write section: %v", err)
	}
	if err := w.WriteSection(SectionLengths, 1, []byte{4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("write section: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	af, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = af.Close() }()

	for i := range af.Sections {
		if af.Sections[i].Offset%apfAlign != 0 {
			t.Fatalf("section %d offset %d not %d-byte aligned", i, af.Sections[i].Offset, apfAlign)
		}
	}
	if af.Header.SectionDirOffset%apfAlign != 0 {
		t.Fatalf("section directory offset %d not aligned", af.Header.SectionDirOffset)
	}
}
