// Package nexuserr defines the error taxonomy shared by every layer of
// the Nexus-RV decoder: wire codec, message buffer, and trace decoder.
//
// Errors are small comparable values (like the C library's negative
// int codes) rather than ad-hoc strings, so callers can switch on them
// with errors.Is. The one code that carries an out-of-band OS error
// (ErrStreamReadFailed) is produced through Wrap, which keeps the
// underlying error reachable via errors.Unwrap/errors.As.
package nexuserr

import "fmt"

// Error is a Nexus-RV error code. The zero value is not a valid error;
// use nil for "no error" as usual in Go, these constants are only ever
// compared against, never instantiated as zero.
type Error int

const (
	ErrNoMem Error = iota + 1
	ErrBufferTooSmall
	ErrStreamBadMseo
	ErrStreamTruncate
	ErrStreamReadFailed
	ErrMsgInvalid
	ErrMsgMissingField
	ErrMsgUnsupported
	ErrTraceEof
	ErrTraceNotSynced
	ErrTraceHistOverflow
	ErrTraceIcntOverflow
	ErrTraceRetstackEmpty
	ErrTraceMismatch
)

var names = map[Error]string{
	ErrNoMem:              "nexus_no_mem",
	ErrBufferTooSmall:     "nexus_buffer_too_small",
	ErrStreamBadMseo:      "nexus_stream_bad_mseo",
	ErrStreamTruncate:     "nexus_stream_truncate",
	ErrStreamReadFailed:   "nexus_stream_read_failed",
	ErrMsgInvalid:         "nexus_msg_invalid",
	ErrMsgMissingField:    "nexus_msg_missing_field",
	ErrMsgUnsupported:     "nexus_msg_unsupported",
	ErrTraceEof:           "nexus_trace_eof",
	ErrTraceNotSynced:     "nexus_trace_not_synced",
	ErrTraceHistOverflow:  "nexus_trace_hist_overflow",
	ErrTraceIcntOverflow:  "nexus_trace_icnt_overflow",
	ErrTraceRetstackEmpty: "nexus_trace_retstack_empty",
	ErrTraceMismatch:      "nexus_trace_mismatch",
}

func (e Error) Error() string {
	if name, ok := names[e]; ok {
		return name
	}
	return "nexus_unknown_error"
}

// wrapped pairs a code with the underlying error that produced it, so
// errors.Is(err, nexuserr.ErrStreamReadFailed) still matches while
// errors.Unwrap(err) reaches the real I/O failure.
type wrapped struct {
	code  Error
	cause error
}

func (w *wrapped) Error() string { return fmt.Sprintf("%s: %v", w.code, w.cause) }
func (w *wrapped) Unwrap() error { return w.cause }
func (w *wrapped) Is(target error) bool {
	code, ok := target.(Error)
	return ok && code == w.code
}

// Wrap attaches cause to code, primarily used for ErrStreamReadFailed
// where the underlying read(2)/io.Reader error must stay reachable.
func Wrap(code Error, cause error) error {
	if cause == nil {
		return code
	}
	return &wrapped{code: code, cause: cause}
}
