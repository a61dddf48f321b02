package metainfo

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode is matched by every *DecodeError.
	ErrDecode = errors.New("metainfo: decode error")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("metainfo: validation error")
	// ErrNoInfo is matched when the top-level dictionary has no info key.
	ErrNoInfo = errors.New("no info key")
)

// DecodeError reports malformed bencode or a metainfo field of the wrong type.
// Offset is the byte position in the input, or -1 when not known.
type DecodeError struct {
	Offset int
	Msg    string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("metainfo: %s at offset %d", e.Msg, e.Offset)
	}
	return "metainfo: " + e.Msg
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecode, e.Err}
	}
	return []error{ErrDecode}
}

func decodeErrorf(offset int, format string, args ...any) *DecodeError {
	return &DecodeError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

func errNoInfo() *DecodeError {
	return &DecodeError{Offset: -1, Msg: "missing info dictionary", Err: ErrNoInfo}
}

func fieldError(field string, format string, args ...any) *DecodeError {
	return &DecodeError{Offset: -1, Msg: field + ": " + fmt.Sprintf(format, args...)}
}

// Reason enumerates the metainfo invariants an upload can violate.
type Reason string

const (
	ReasonPieceLength  Reason = "invalid piece length"
	ReasonPiecesEmpty  Reason = "empty pieces"
	ReasonPiecesLength Reason = "pieces length not a multiple of 20"
	ReasonLayout       Reason = "ambiguous file layout"
	ReasonFileLength   Reason = "invalid file length"
	ReasonFilePath     Reason = "invalid file path"
	ReasonPathConflict Reason = "conflicting file paths"
	ReasonName         Reason = "invalid name"
	ReasonMetaVersion  Reason = "unsupported meta version"
	ReasonPiecesRoot   Reason = "invalid pieces root"
)

// ValidationError is a structurally valid document that breaks an invariant.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "metainfo: " + string(e.Reason)
	}
	return "metainfo: " + string(e.Reason) + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(reason Reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
