package msgio

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/ganboing/nexusrv-go/hwcfg"
	"github.com/ganboing/nexusrv-go/message"
	"github.com/ganboing/nexusrv-go/nexuserr"
)

func encodeAll(cfg hwcfg.Config, msgs []message.Message) []byte {
	var buf []byte
	for i := range msgs {
		buf = message.Encode(buf, &msgs[i], cfg.SrcBits, cfg.TsBits, cfg.AddrBits, cfg.VAO)
	}
	return buf
}

func TestDecoder_NextIteratesInOrder(t *testing.T) {
	// WHAT: Next() replays a stream of encoded messages in wire order
	// WHY: this is the streaming decoder every cmd/ tool and the trace
	// decoder itself build on.
	cfg := hwcfg.Config{SrcBits: 4, TsBits: 8}
	in := []message.Message{
		{TCode: message.TCodeDirectBranch, Src: 1, ICnt: 1},
		{TCode: message.TCodeDirectBranch, Src: 2, ICnt: 2},
		{TCode: message.TCodeIdle},
	}
	buf := encodeAll(cfg, in)

	dec := NewDecoder(cfg, bytes.NewReader(buf), -1, 64)
	for i := range in {
		got, ok, err := dec.Next()
		if err != nil || !ok {
			t.Fatalf("Next() at %d = _, %v, %v", i, ok, err)
		}
		if got.TCode != in[i].TCode || got.Src != in[i].Src || got.ICnt != in[i].ICnt {
			t.Errorf("Next() at %d = %+v, want %+v", i, got, in[i])
		}
	}
	if _, ok, err := dec.Next(); ok || err != nil {
		t.Errorf("Next() past the end = %v, %v, want false, nil", ok, err)
	}
}

func TestDecoder_SrcFilterDropsOthers(t *testing.T) {
	// WHAT: a non-negative srcFilter silently skips messages from
	// other SRCs
	// WHY: this is how nxdump's -c flag and the trace decoder's
	// per-hart demux select a single SRC out of an interleaved stream.
	cfg := hwcfg.Config{SrcBits: 4, TsBits: 8}
	in := []message.Message{
		{TCode: message.TCodeDirectBranch, Src: 1, ICnt: 1},
		{TCode: message.TCodeDirectBranch, Src: 2, ICnt: 2},
		{TCode: message.TCodeDirectBranch, Src: 1, ICnt: 3},
	}
	buf := encodeAll(cfg, in)

	dec := NewDecoder(cfg, bytes.NewReader(buf), 1, 64)
	var got []uint32
	for {
		m, ok, err := dec.Next()
		if err != nil {
			t.Fatalf("Next() = _, _, %v", err)
		}
		if !ok {
			break
		}
		got = append(got, m.ICnt)
	}
	want := []uint32{1, 3}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("filtered ICnts = %v, want %v", got, want)
	}
}

func TestDecoder_RewindLastReplaysSameMessage(t *testing.T) {
	// WHAT: RewindLast makes the next Next() call return the same
	// message again
	// WHY: the trace decoder's look-ahead (RepeatBranch/Ownership
	// folding) depends on being able to "put back" a message that
	// turned out not to belong to the current fold.
	cfg := hwcfg.Config{SrcBits: 4, TsBits: 8}
	in := []message.Message{
		{TCode: message.TCodeDirectBranch, Src: 1, ICnt: 11},
		{TCode: message.TCodeDirectBranch, Src: 1, ICnt: 22},
	}
	buf := encodeAll(cfg, in)

	dec := NewDecoder(cfg, bytes.NewReader(buf), -1, 64)
	first, ok, err := dec.Next()
	if err != nil || !ok || first.ICnt != 11 {
		t.Fatalf("first Next() = %+v, %v, %v", first, ok, err)
	}
	dec.RewindLast()
	replay, ok, err := dec.Next()
	if err != nil || !ok || replay.ICnt != 11 {
		t.Fatalf("replayed Next() = %+v, %v, %v", replay, ok, err)
	}
	second, ok, err := dec.Next()
	if err != nil || !ok || second.ICnt != 22 {
		t.Fatalf("second Next() = %+v, %v, %v", second, ok, err)
	}
}

func TestDecoder_OffsetTracksByteProgress(t *testing.T) {
	// WHAT: Offset() reports the absolute start offset of the last
	// decoded message
	// WHY: every cmd/ tool prints this offset alongside each message.
	cfg := hwcfg.Config{SrcBits: 4, TsBits: 8}
	in := []message.Message{
		{TCode: message.TCodeDirectBranch, Src: 1, ICnt: 1},
		{TCode: message.TCodeDirectBranch, Src: 1, ICnt: 2},
	}
	buf := encodeAll(cfg, in)
	firstLen := len(message.Encode(nil, &in[0], cfg.SrcBits, cfg.TsBits, cfg.AddrBits, cfg.VAO))

	dec := NewDecoder(cfg, bytes.NewReader(buf), -1, 64)
	if _, ok, err := dec.Next(); !ok || err != nil {
		t.Fatalf("first Next() failed: %v %v", ok, err)
	}
	if got := dec.Offset(); got != 0 {
		t.Errorf("Offset() after first message = %d, want 0", got)
	}
	if _, ok, err := dec.Next(); !ok || err != nil {
		t.Fatalf("second Next() failed: %v %v", ok, err)
	}
	if got := dec.Offset(); got != firstLen {
		t.Errorf("Offset() after second message = %d, want %d", got, firstLen)
	}
}

func TestDecoder_BufferTooSmallForOneMessage(t *testing.T) {
	// WHAT: a buffer smaller than a single message reports
	// ErrBufferTooSmall rather than looping forever
	// WHY: mirrors the original's explicit check that a short read
	// can never simply be retried past a too-small buffer.
	cfg := hwcfg.Config{SrcBits: 4, TsBits: 8}
	in := message.Message{TCode: message.TCodeDirectBranch, Src: 1, ICnt: 1 << 20}
	buf := message.Encode(nil, &in, cfg.SrcBits, cfg.TsBits, cfg.AddrBits, cfg.VAO)
	if len(buf) < 2 {
		t.Fatalf("test message encoded too small to exercise the failure: %d bytes", len(buf))
	}

	dec := NewDecoder(cfg, bytes.NewReader(buf), -1, len(buf)-1)
	_, _, err := dec.Next()
	if !errors.Is(err, nexuserr.ErrBufferTooSmall) {
		t.Errorf("Next() = _, _, %v, want ErrBufferTooSmall", err)
	}
}

func TestDecoder_ReadFailurePropagates(t *testing.T) {
	cfg := hwcfg.Config{SrcBits: 4, TsBits: 8}
	dec := NewDecoder(cfg, failingReader{}, -1, 64)
	_, _, err := dec.Next()
	if !errors.Is(err, nexuserr.ErrStreamReadFailed) {
		t.Errorf("Next() = _, _, %v, want ErrStreamReadFailed", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }
