package codec

import (
	"errors"
	"fmt"
)

// Error kinds reported by Decode.
var (
	ErrBadBase64       = errors.New("codec: malformed base64")
	ErrTruncated       = errors.New("codec: odd byte length")
	ErrEmptyPayload    = errors.New("codec: empty payload")
	ErrUnsupportedMIME = errors.New("codec: unsupported mime type")
)

// CodecError describes a chunk that could not be converted.
// The chunk should be dropped; the session keeps running.
type CodecError struct {
	Kind     error
	MIMEType string
	Err      error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v (mime=%q): %v", e.Kind, e.MIMEType, e.Err)
	}
	return fmt.Sprintf("%v (mime=%q)", e.Kind, e.MIMEType)
}

// Unwrap returns both the kind and the cause so errors.Is matches either.
func (e *CodecError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// IsCodecError reports whether err is a CodecError.
func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}
