// Package msgio implements the streaming, buffered message decoder:
// it owns a caller-sized byte buffer, refills it from an io.Reader,
// and iterates decoded message.Message values while tolerating
// partial reads and truncated tails. Grounded on
// original_source/lib/msg-decoder.c's nexusrv_msg_decoder_next/
// lastmsg/rewind_last/offset.
package msgio

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ganboing/nexusrv-go/hwcfg"
	"github.com/ganboing/nexusrv-go/message"
	"github.com/ganboing/nexusrv-go/nexuserr"
)

// Log is the package-level logger, swappable by the caller the same
// way the rest of this port defaults to logrus.StandardLogger().
var Log = logrus.StandardLogger()

// Decoder streams message.Message values out of a byte source,
// applying an optional SRC filter.
type Decoder struct {
	cfg       hwcfg.Config
	src       io.Reader
	srcFilter int32 // negative = unfiltered, mirrors int16_t src_filter

	buf         []byte
	nread       int
	filled      int
	pos         int
	lastmsgLen  int
	reachedEOF  bool
}

// NewDecoder allocates a Decoder reading from src with the given
// buffer size. srcFilter<0 disables SRC filtering.
func NewDecoder(cfg hwcfg.Config, src io.Reader, srcFilter int32, bufsz int) *Decoder {
	return &Decoder{
		cfg:       cfg,
		src:       src,
		srcFilter: srcFilter,
		buf:       make([]byte, bufsz),
	}
}

// Next decodes the next message, refilling the buffer as needed.
// It returns (msg, true, nil) on success, (zero, false, nil) at EOF,
// and (zero, false, err) on any error.
func (d *Decoder) Next() (message.Message, bool, error) {
	for {
		d.lastmsgLen = 0
		if d.pos == d.filled {
			if d.pos != 0 {
				// already reached EOF on a prior refill
				return message.Message{}, false, nil
			}
			if err := d.refill(); err != nil {
				return message.Message{}, false, err
			}
			if d.filled == 0 {
				d.pos, d.filled = len(d.buf), len(d.buf)
				return message.Message{}, false, nil
			}
			continue
		}

		m, n, err := message.Decode(d.buf[d.pos:d.filled], d.cfg.SrcBits, d.cfg.TsBits, d.cfg.AddrBits, d.cfg.VAO)
		if err == nil {
			d.pos += n
			if d.pos == len(d.buf) {
				d.nread += d.pos
				d.pos, d.filled = 0, 0
			}
			d.lastmsgLen = n
			if d.srcFilter >= 0 && int32(m.Src) != d.srcFilter {
				Log.WithFields(logrus.Fields{"src": m.Src, "filter": d.srcFilter}).Debug("msgio: dropping message outside SRC filter")
				continue
			}
			return m, true, nil
		}
		if err != nexuserr.ErrStreamTruncate || d.filled != len(d.buf) {
			return message.Message{}, false, err
		}
		if d.pos == 0 {
			return message.Message{}, false, nexuserr.ErrBufferTooSmall
		}
		if err := d.refill(); err != nil {
			return message.Message{}, false, err
		}
		if d.filled == 0 {
			d.pos, d.filled = len(d.buf), len(d.buf)
			return message.Message{}, false, nil
		}
	}
}

// refill moves the unconsumed tail to the front of the buffer and
// reads more bytes from src.
func (d *Decoder) refill() error {
	carry := d.filled - d.pos
	copy(d.buf[:carry], d.buf[d.pos:d.filled])
	d.nread += d.pos
	d.pos = 0
	d.filled = carry

	n, err := readAll(d.src, d.buf[carry:])
	if err != nil {
		return nexuserr.Wrap(nexuserr.ErrStreamReadFailed, err)
	}
	d.filled += n
	return nil
}

// readAll retries Read until buf is full or the source is
// exhausted (io.EOF), mirroring misc.c's read_all (which retries
// read(2) across EINTR and short reads alike).
func readAll(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

// LastMsg returns the raw bytes of the most recently decoded message,
// valid until the next Next/RewindLast call.
func (d *Decoder) LastMsg() []byte {
	if d.lastmsgLen == 0 {
		return nil
	}
	if d.pos != 0 {
		return d.buf[d.pos-d.lastmsgLen : d.pos]
	}
	return d.buf[len(d.buf)-d.lastmsgLen:]
}

// RewindLast "returns" the last decoded message to the decoder, so
// the next Next call decodes it again. Idempotent.
func (d *Decoder) RewindLast() {
	if d.lastmsgLen == 0 {
		return
	}
	if d.pos == 0 {
		d.pos, d.filled = len(d.buf), len(d.buf)
		d.nread -= len(d.buf)
	}
	d.pos -= d.lastmsgLen
	d.lastmsgLen = 0
}

// Offset returns the absolute byte offset of the start of the last
// returned message.
func (d *Decoder) Offset() int {
	offset := d.nread
	if d.pos != len(d.buf) {
		offset += d.pos
	}
	return offset - d.lastmsgLen
}
