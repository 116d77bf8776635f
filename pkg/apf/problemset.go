package apf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/samcharles93/fmha/internal/attention"
)

// Problem-set payload formats (v1), little-endian.
//
// SectionProblemInfo (24 bytes):
//   u32 batch_size
//   u32 head_count
//   u32 head_dim_qk
//   u32 head_dim_v
//   u32 granule
//   u32 flags (ProblemInfoFlag*)
//
// SectionLengths: one 16-byte record per batch entry.
//   u32 query_aligned   rows of the padded extent, multiple of granule
//   u32 key_aligned     cols of the padded extent, multiple of granule
//   u32 query_real      rows actually populated, <= query_aligned
//   u32 key_real        cols actually populated, <= key_aligned
//
// SectionQueryData / SectionKeyData / SectionValueData:
//   packed float32 payloads laid out exactly as the driver consumes them;
//   element counts are implied by the reconstructed descriptor table.

const (
	problemInfoVersion uint32 = 1
	lengthsVersion     uint32 = 1
	operandVersion     uint32 = 1
)

const (
	problemInfoSize  = 24
	lengthRecordSize = 16
)

// ProblemInfoFlagMasked means real extents were retained below the aligned
// ones, so the loaded set drives the masked (extent-truncating) path.
const ProblemInfoFlagMasked uint32 = 1 << 0

// Sanity bounds applied to untrusted headers before any allocation is
// sized from them.
const (
	maxProblems = 1 << 20
	maxExtent   = 1 << 28
)

// ProblemInfo is the fixed descriptor-table summary stored in an APF file.
type ProblemInfo struct {
	BatchSize uint32
	HeadCount uint32
	HeadDimQK uint32
	HeadDimV  uint32
	Granule   uint32
	Flags     uint32
}

func (pi *ProblemInfo) Masked() bool { return pi.Flags&ProblemInfoFlagMasked != 0 }

type lengthRecord struct {
	queryAligned uint32
	keyAligned   uint32
	queryReal    uint32
	keyReal      uint32
}

// Contents couples a reconstructed descriptor table with zero-copy views
// of its operand payloads. The float slices alias the file data and must
// not be retained after File.Close().
type Contents struct {
	Info ProblemInfo
	Set  *attention.ProblemSet

	Q, K, V []float32
}

// WriteSet writes the descriptor table and its operand payloads as APF
// sections. The caller owns the writer and still calls Finalise.
func WriteSet(w *Writer, set *attention.ProblemSet, q, k, v []float32) error {
	if set == nil || set.Count() == 0 {
		return errors.New("apf: empty problem set")
	}
	if err := set.Validate(); err != nil {
		return fmt.Errorf("apf: invalid problem set: %w", err)
	}
	if err := checkCanonical(set); err != nil {
		return err
	}
	if len(q) != set.ElemsQ || len(k) != set.ElemsK || len(v) != set.ElemsV {
		return errors.New("apf: operand length does not match descriptor table")
	}

	info := ProblemInfo{
		BatchSize: uint32(set.BatchSize),
		HeadCount: uint32(set.HeadCount),
		HeadDimQK: uint32(set.HeadDimQK),
		HeadDimV:  uint32(set.HeadDimV),
		Granule:   uint32(set.Granule),
	}
	if set.Masked {
		info.Flags |= ProblemInfoFlagMasked
	}

	if err := w.WriteSection(SectionProblemInfo, problemInfoVersion, encodeProblemInfo(info)); err != nil {
		return err
	}
	if err := w.WriteSection(SectionLengths, lengthsVersion, encodeLengthRecords(set)); err != nil {
		return err
	}
	if err := w.WriteSection(SectionQueryData, operandVersion, structSliceBytes(q)); err != nil {
		return err
	}
	if err := w.WriteSection(SectionKeyData, operandVersion, structSliceBytes(k)); err != nil {
		return err
	}
	return w.WriteSection(SectionValueData, operandVersion, structSliceBytes(v))
}

// Create writes set and operands to path as a finalised APF file.
func Create(path string, set *attention.ProblemSet, q, k, v []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w, err := NewWriter(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := WriteSet(w, set, q, k, v); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Finalise(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadSet reconstructs the problem set and operand views from an opened file.
func ReadSet(f *File) (*Contents, error) {
	info, err := readProblemInfo(f)
	if err != nil {
		return nil, err
	}
	recs, err := readLengthRecords(f, info)
	if err != nil {
		return nil, err
	}

	set, err := rebuildSet(info, recs)
	if err != nil {
		return nil, err
	}

	q, err := operandData(f, SectionQueryData, set.ElemsQ)
	if err != nil {
		return nil, err
	}
	k, err := operandData(f, SectionKeyData, set.ElemsK)
	if err != nil {
		return nil, err
	}
	v, err := operandData(f, SectionValueData, set.ElemsV)
	if err != nil {
		return nil, err
	}

	return &Contents{Info: info, Set: set, Q: q, K: k, V: v}, nil
}

// checkCanonical rejects sets whose layout the length table cannot express:
// every head of a batch entry must share that entry's extents, and strides
// must equal the head dimensions.
func checkCanonical(set *attention.ProblemSet) error {
	for b := 0; b < set.BatchSize; b++ {
		first := &set.Problems[b*set.HeadCount]
		for h := 0; h < set.HeadCount; h++ {
			p := &set.Problems[b*set.HeadCount+h]
			if p.Shape0 != first.Shape0 || p.RealRows != first.RealRows || p.RealCols != first.RealCols {
				return errors.New("apf: set layout not canonical: heads differ within a batch entry")
			}
			if p.StrideQ != set.HeadDimQK || p.StrideK != set.HeadDimQK ||
				p.StrideV != set.HeadDimV || p.StrideO != set.HeadDimV {
				return errors.New("apf: set layout not canonical: non-contiguous strides")
			}
		}
	}
	return nil
}

func encodeProblemInfo(info ProblemInfo) []byte {
	buf := make([]byte, problemInfoSize)
	binary.LittleEndian.PutUint32(buf[0:4], info.BatchSize)
	binary.LittleEndian.PutUint32(buf[4:8], info.HeadCount)
	binary.LittleEndian.PutUint32(buf[8:12], info.HeadDimQK)
	binary.LittleEndian.PutUint32(buf[12:16], info.HeadDimV)
	binary.LittleEndian.PutUint32(buf[16:20], info.Granule)
	binary.LittleEndian.PutUint32(buf[20:24], info.Flags)
	return buf
}

func encodeLengthRecords(set *attention.ProblemSet) []byte {
	buf := make([]byte, set.BatchSize*lengthRecordSize)
	for b := 0; b < set.BatchSize; b++ {
		p := &set.Problems[b*set.HeadCount]
		off := b * lengthRecordSize
		binary.LittleEndian.PutUint32(buf[off+0:off+4], uint32(p.Shape0.Rows))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(p.Shape0.Cols))
		binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(p.RealRows))
		binary.LittleEndian.PutUint32(buf[off+12:off+16], uint32(p.RealCols))
	}
	return buf
}

func readProblemInfo(f *File) (ProblemInfo, error) {
	var info ProblemInfo
	sec := f.Section(SectionProblemInfo)
	if sec == nil {
		return info, fmt.Errorf("%w: missing problem-info section", ErrCorruptFile)
	}
	if sec.Version != problemInfoVersion {
		return info, ErrUnsupportedVersion
	}
	raw := f.SectionData(sec)
	if len(raw) != problemInfoSize {
		return info, fmt.Errorf("%w: problem-info section has %d bytes", ErrCorruptFile, len(raw))
	}

	info.BatchSize = binary.LittleEndian.Uint32(raw[0:4])
	info.HeadCount = binary.LittleEndian.Uint32(raw[4:8])
	info.HeadDimQK = binary.LittleEndian.Uint32(raw[8:12])
	info.HeadDimV = binary.LittleEndian.Uint32(raw[12:16])
	info.Granule = binary.LittleEndian.Uint32(raw[16:20])
	info.Flags = binary.LittleEndian.Uint32(raw[20:24])

	if info.BatchSize == 0 || info.HeadCount == 0 {
		return info, fmt.Errorf("%w: zero batch or head count", ErrCorruptFile)
	}
	if info.HeadDimQK == 0 || info.HeadDimV == 0 || info.Granule == 0 {
		return info, fmt.Errorf("%w: zero head dimension or granule", ErrCorruptFile)
	}
	if uint64(info.BatchSize)*uint64(info.HeadCount) > maxProblems {
		return info, fmt.Errorf("%w: problem count out of range", ErrCorruptFile)
	}
	if info.HeadDimQK > maxExtent || info.HeadDimV > maxExtent || info.Granule > maxExtent {
		return info, fmt.Errorf("%w: head dimension out of range", ErrCorruptFile)
	}
	return info, nil
}

func readLengthRecords(f *File, info ProblemInfo) ([]lengthRecord, error) {
	sec := f.Section(SectionLengths)
	if sec == nil {
		return nil, fmt.Errorf("%w: missing lengths section", ErrCorruptFile)
	}
	if sec.Version != lengthsVersion {
		return nil, ErrUnsupportedVersion
	}
	raw := f.SectionData(sec)
	if uint64(len(raw)) != uint64(info.BatchSize)*lengthRecordSize {
		return nil, fmt.Errorf("%w: lengths section has %d bytes for %d batch entries", ErrCorruptFile, len(raw), info.BatchSize)
	}

	recs := make([]lengthRecord, info.BatchSize)
	for b := range recs {
		off := b * lengthRecordSize
		recs[b] = lengthRecord{
			queryAligned: binary.LittleEndian.Uint32(raw[off+0 : off+4]),
			keyAligned:   binary.LittleEndian.Uint32(raw[off+4 : off+8]),
			queryReal:    binary.LittleEndian.Uint32(raw[off+8 : off+12]),
			keyReal:      binary.LittleEndian.Uint32(raw[off+12 : off+16]),
		}
		r := &recs[b]
		if r.queryAligned > maxExtent || r.keyAligned > maxExtent {
			return nil, fmt.Errorf("%w: batch entry %d extent out of range", ErrCorruptFile, b)
		}
		if r.queryAligned%info.Granule != 0 || r.keyAligned%info.Granule != 0 {
			return nil, fmt.Errorf("%w: batch entry %d extent not granule-aligned", ErrCorruptFile, b)
		}
		if r.queryReal > r.queryAligned || r.keyReal > r.keyAligned {
			return nil, fmt.Errorf("%w: batch entry %d real extent exceeds aligned", ErrCorruptFile, b)
		}
		if !info.Masked() && (r.queryReal != r.queryAligned || r.keyReal != r.keyAligned) {
			return nil, fmt.Errorf("%w: batch entry %d retains real extents without masked flag", ErrCorruptFile, b)
		}
	}
	return recs, nil
}

// rebuildSet reconstitutes the descriptor table from the stored summary.
// Offsets and strides are re-derived, never trusted from the file.
func rebuildSet(info ProblemInfo, recs []lengthRecord) (*attention.ProblemSet, error) {
	cfg := attention.SetConfig{
		BatchSize: int(info.BatchSize),
		HeadCount: int(info.HeadCount),
		HeadDimQK: int(info.HeadDimQK),
		HeadDimV:  int(info.HeadDimV),
		Granule:   int(info.Granule),
	}
	lens := make([]attention.Lengths, len(recs))
	for b, r := range recs {
		lens[b] = attention.Lengths{Query: int(r.queryAligned), Key: int(r.keyAligned)}
	}

	set := attention.BuildSetFromLengths(cfg, lens)
	if info.Masked() {
		set.Masked = true
		for b, r := range recs {
			for h := 0; h < set.HeadCount; h++ {
				p := &set.Problems[b*set.HeadCount+h]
				p.RealRows = int(r.queryReal)
				p.RealCols = int(r.keyReal)
			}
		}
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	return set, nil
}

func operandData(f *File, t SectionType, elems int) ([]float32, error) {
	sec := f.Section(t)
	if sec == nil {
		return nil, fmt.Errorf("%w: missing %v section", ErrCorruptFile, t)
	}
	if sec.Version != operandVersion {
		return nil, ErrUnsupportedVersion
	}
	raw := f.SectionData(sec)
	if uint64(len(raw)) != uint64(elems)*4 {
		return nil, fmt.Errorf("%w: %v section has %d bytes, descriptor table demands %d", ErrCorruptFile, t, len(raw), elems*4)
	}
	return float32View(raw), nil
}
