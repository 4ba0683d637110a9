package proto

import "errors"

// EncodeErrorKind says why a chirp could not be encoded.
type EncodeErrorKind int

const (
	TopicTooLong EncodeErrorKind = iota + 1
	PayloadTooLong
	FormatOverflow
	InvalidTopic
	InvalidPayload
)

var (
	ErrTopicTooLong   = errors.New("topic name too long")
	ErrPayloadTooLong = errors.New("payload too long")
	ErrFormatOverflow = errors.New("encoding buffer overflow")
	ErrInvalidTopic   = errors.New("invalid topic name")
	ErrInvalidPayload = errors.New("payload is not valid UTF-8")
)

// EncodeError is returned by the Encoder instead of a truncated document.
type EncodeError struct {
	Kind   EncodeErrorKind
	Field  string // "topic", "data" or "chirp"
	Length int    // offending input length, 0 when not applicable
	Limit  int    // capacity that was exceeded
}

func (e *EncodeError) Error() string {
	return e.sentinel().Error() + " (" + e.Field + ")"
}

func (e *EncodeError) Unwrap() error {
	return e.sentinel()
}

// IsArgument reports whether the caller supplied a malformed or oversized
// input, as opposed to an overflow while formatting.
func (e *EncodeError) IsArgument() bool {
	return e.Kind != FormatOverflow
}

func (e *EncodeError) sentinel() error {
	switch e.Kind {
	case TopicTooLong:
		return ErrTopicTooLong
	case PayloadTooLong:
		return ErrPayloadTooLong
	case InvalidTopic:
		return ErrInvalidTopic
	case InvalidPayload:
		return ErrInvalidPayload
	default:
		return ErrFormatOverflow
	}
}
