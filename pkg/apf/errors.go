package apf

import "errors"

var (
	ErrInvalidMagic       = errors.New("invalid APF magic")
	ErrUnsupportedMajor   = errors.New("unsupported APF major version")
	ErrUnsupportedVersion = errors.New("unsupported APF section version")
	ErrCorruptFile        = errors.New("corrupt APF file")
)
