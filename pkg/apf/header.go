package apf

const (
	MagicAPF = "APF\x00"

	// Current Major Version: 1 (Breaking changes only)
	CurrentMajor uint16 = 1

	// Current Minor Version
	CurrentMinor uint16 = 0
)

type APFHeader struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64 // reserved, must be zero
}

func (h *APFHeader) Valid() bool {
	if string(h.Magic[:]) != MagicAPF {
		return false
	}
	if h.HeaderSize < apfHeaderSize {
		return false
	}
	if h.SectionCount == 0 {
		return false
	}
	return true
}

func (h *APFHeader) Compatible() bool {
	return h.Major == CurrentMajor
}
