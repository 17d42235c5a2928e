package protocol

import "errors"

var (
	// validation failures, raised before any I/O
	ErrEmptyBatch     = errors.New("protocol: empty batch")
	ErrUnterminated   = errors.New("protocol: batch not terminated by delimiter")
	ErrUnknownCommand = errors.New("protocol: unknown command")

	// transport failures
	ErrConnect    = errors.New("protocol: connect failed")
	ErrWrite      = errors.New("protocol: write failed")
	ErrTimeout    = errors.New("protocol: read timed out")
	ErrShortReply = errors.New("protocol: connection closed before reply was complete")
	ErrDecode     = errors.New("protocol: reply is not ASCII")

	// transport succeeded but the first chunk was not the expected token
	ErrAckMismatch = errors.New("protocol: acknowledgement mismatch")
)
