package tblgen

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidUTF8           = errors.New("invalid UTF-8 string")
	ErrMalformedInput        = errors.New("invalid TableGen source")
	ErrAddSource             = errors.New("failed to add TableGen source")
	ErrAddInclude            = errors.New("failed to add include path")
	ErrParse                 = errors.New("failed to parse TableGen source")
	ErrInvalidSourceLocation = errors.New("invalid source location")
	ErrConsumed              = errors.New("parser already consumed")

	// ErrReleased is the panic value of any use of a view after its
	// RecordKeeper was closed.
	ErrReleased = errors.New("use of record graph after RecordKeeper.Close")
)

// EncodingError reports text that is not valid UTF-8.
type EncodingError struct {
	// Offset is the byte offset of the first invalid sequence.
	Offset int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s at offset %d", ErrInvalidUTF8, e.Offset)
}

func (e *EncodingError) Unwrap() error {
	return ErrInvalidUTF8
}

// MalformedInputError reports source text that cannot be handed to the
// compiler.
type MalformedInputError struct {
	Offset int
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("%s: %s at offset %d", ErrMalformedInput, e.Reason, e.Offset)
}

func (e *MalformedInputError) Unwrap() error {
	return ErrMalformedInput
}

type MissingFieldError struct {
	Name string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("expected field %s in record", e.Name)
}

type MissingRecordError struct {
	Kind string // "class" or "def"
	Name string
}

func (e *MissingRecordError) Error() string {
	return fmt.Sprintf("expected %s %s", e.Kind, e.Name)
}

// ConversionError reports a Value read as a shape it does not have, or
// whose content could not be converted.
type ConversionError struct {
	From string
	To   string
	Err  error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid conversion from %s to %s: %v", e.From, e.To, e.Err)
	}
	return fmt.Sprintf("invalid conversion from %s to %s", e.From, e.To)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
