package protocol

import (
	"errors"
	"fmt"
)

var ErrDatagramTooLarge = errors.New("protocol: datagram too large")

// Decode failure codes.
const (
	ErrCodeCompression = "E_PROTO_COMPRESSION"
	ErrCodeOversize    = "E_PROTO_OVERSIZE"
	ErrCodeShort       = "E_PROTO_SHORT"
	ErrCodeBadMagic    = "E_PROTO_BAD_MAGIC"
	ErrCodeBadVersion  = "E_PROTO_BAD_VERSION"
	ErrCodeUnknownTag  = "E_PROTO_UNKNOWN_TAG"
	ErrCodeBadField    = "E_PROTO_BAD_FIELD"
	ErrCodeTrailing    = "E_PROTO_TRAILING"
)

var knownCodes = map[string]struct{}{
	ErrCodeCompression: {},
	ErrCodeOversize:    {},
	ErrCodeShort:       {},
	ErrCodeBadMagic:    {},
	ErrCodeBadVersion:  {},
	ErrCodeUnknownTag:  {},
	ErrCodeBadField:    {},
	ErrCodeTrailing:    {},
}

func IsKnownCode(code string) bool {
	_, ok := knownCodes[code]
	return ok
}

// DecodeError is returned for any datagram that cannot be turned into a
// Message. The packet should be dropped.
type DecodeError struct {
	Code string
	Tag  Tag
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Tag != 0 {
		return fmt.Sprintf("protocol: decode %s: %s: %v", e.Tag, e.Code, e.Err)
	}
	return fmt.Sprintf("protocol: decode: %s: %v", e.Code, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(code string, tag Tag, format string, args ...any) *DecodeError {
	return &DecodeError{Code: code, Tag: tag, Err: fmt.Errorf(format, args...)}
}
