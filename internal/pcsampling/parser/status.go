package parser

import (
	"errors"
	"strconv"
)

// Status is the outcome of a parse step. Parsing reports statuses rather
// than errors so the per-sample path never allocates.
type Status int

const (
	StatusSuccess Status = iota
	StatusError
	StatusInvalidGFXIP
	StatusParserError
	StatusInvalidSample
	StatusBufferNotFound
)

var (
	ErrInvalidGFXIP   = errors.New("unsupported gfx ip major version")
	ErrParser         = errors.New("pc sampling parser error")
	ErrInvalidSample  = errors.New("malformed pc sampling segment")
	ErrBufferNotFound = errors.New("no buffer registered for agent")
	ErrUnknown        = errors.New("pc sampling error")
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "PCSAMPLE_STATUS_SUCCESS"
	case StatusError:
		return "PCSAMPLE_STATUS_ERROR"
	case StatusInvalidGFXIP:
		return "PCSAMPLE_STATUS_INVALID_GFXIP"
	case StatusParserError:
		return "PCSAMPLE_STATUS_PARSER_ERROR"
	case StatusInvalidSample:
		return "PCSAMPLE_STATUS_INVALID_SAMPLE"
	case StatusBufferNotFound:
		return "PCSAMPLE_STATUS_BUFFER_NOT_FOUND"
	}
	return "PCSAMPLE_STATUS(" + strconv.Itoa(int(s)) + ")"
}

// Err returns nil for StatusSuccess and a sentinel error otherwise.
func (s Status) Err() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusInvalidGFXIP:
		return ErrInvalidGFXIP
	case StatusParserError:
		return ErrParser
	case StatusInvalidSample:
		return ErrInvalidSample
	case StatusBufferNotFound:
		return ErrBufferNotFound
	}
	return ErrUnknown
}

// worst keeps the first failure of a sequence of steps.
func worst(cur, next Status) Status {
	if cur != StatusSuccess {
		return cur
	}
	return next
}
