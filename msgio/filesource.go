package msgio

import (
	"io"

	"golang.org/x/sys/unix"
)

// FileSource adapts a raw file descriptor (as opposed to an
// *os.File) into an io.Reader for Decoder, retrying read(2) across
// EINTR the same way original_source/lib/misc.c's read_all does.
// Used by collaborator tools that open the trace file themselves via
// unix.Open to control O_CLOEXEC/pipe semantics outside this
// package's scope (see SPEC_FULL.md §3.3).
type FileSource struct {
	Fd int
}

func (f FileSource) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(f.Fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}
