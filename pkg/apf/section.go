package apf

type SectionType uint32

const (
	SectionProblemInfo SectionType = 0x0001
	SectionLengths     SectionType = 0x0002
	SectionQueryData   SectionType = 0x0003
	SectionKeyData     SectionType = 0x0004
	SectionValueData   SectionType = 0x0005
)

func (t SectionType) String() string {
	switch t {
	case SectionProblemInfo:
		return "problem-info"
	case SectionLengths:
		return "lengths"
	case SectionQueryData:
		return "query-data"
	case SectionKeyData:
		return "key-data"
	case SectionValueData:
		return "value-data"
	}
	return "unknown"
}

type APFSection struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s *APFSection) End() uint64 {
	return s.Offset + s.Size
}
