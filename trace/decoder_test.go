package trace

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ganboing/nexusrv-go/hwcfg"
	"github.com/ganboing/nexusrv-go/message"
	"github.com/ganboing/nexusrv-go/msgio"
	"github.com/ganboing/nexusrv-go/nexuserr"
)

func TestExtendAddrBits(t *testing.T) {
	// WHAT: sign-extends the top bit of a narrow address out to 64 bits
	// WHY: every reconstructed target/sync address goes through this,
	// and a width of 0 or >=64 must be treated as a no-op rather than
	// shifting by a negative count.
	cases := []struct {
		addr uint64
		bits uint
		want uint64
	}{
		{0x7F, 8, 0x7F},                  // MSB clear: unchanged
		{0xFF, 8, 0xFFFFFFFFFFFFFFFF},     // MSB set: sign-extends to all-ones
		{0x1234, 0, 0x1234},               // bits==0: no-op, must not panic
		{0x1234, 64, 0x1234},              // bits>=64: no-op
	}
	for _, c := range cases {
		if got := extendAddrBits(c.addr, c.bits); got != c.want {
			t.Errorf("extendAddrBits(0x%x, %d) = 0x%x, want 0x%x", c.addr, c.bits, got, c.want)
		}
	}
}

func TestTime_MaskingAndFrequencyConversion(t *testing.T) {
	// WHAT: Time() masks to cfg.TsBits then converts ticks to
	// nanoseconds when TimerFreq is set
	// WHY: mirrors nexusrv_trace_time's masked-timestamp to
	// tick-rate-scaled-nanoseconds conversion.
	d := &Decoder{cfg: hwcfg.Config{TsBits: 8}, timestamp: 0x1FF}
	if got := d.Time(); got != 0xFF {
		t.Errorf("Time() with TsBits=8, raw ticks = 0x%x, want 0xFF", got)
	}

	d2 := &Decoder{cfg: hwcfg.Config{TsBits: 32, TimerFreq: 1_000_000_000}, timestamp: 5}
	if got := d2.Time(); got != 5 {
		t.Errorf("Time() at 1GHz = %d, want 5ns for 5 ticks", got)
	}

	d3 := &Decoder{cfg: hwcfg.Config{TsBits: 32, TimerFreq: 500_000_000}, timestamp: 1}
	if got := d3.Time(); got != 2 {
		t.Errorf("Time() at 500MHz for 1 tick = %d, want 2ns", got)
	}
}

func TestCheckMsg(t *testing.T) {
	// WHAT: checkMsg rejects unknown tcodes and malformed
	// ICNT/HIST/HREPEAT fields, but passes DataAcquisition and ICT
	// through like any other known message
	// WHY: this is the gate every fetched message passes through
	// before the state machine touches it. DataAcquisition and ICT are
	// both "known but inert" per message.Known's doc comment, so
	// neither gets a special rejection here; they fold through
	// TryRetire's default EventNone branch instead.
	cases := []struct {
		name string
		msg  message.Message
		ok   bool
	}{
		{"idle ok", message.Message{TCode: message.TCodeIdle}, true},
		{"unknown tcode rejected", message.Message{TCode: message.TCode(50)}, false},
		{"data acquisition ok", message.Message{TCode: message.TCodeDataAcquisition}, true},
		{"icnt overflow rejected", message.Message{TCode: message.TCodeDirectBranch, ICnt: msgICntMax + 1}, false},
		{"icnt at max ok", message.Message{TCode: message.TCodeDirectBranch, ICnt: msgICntMax}, true},
		{"zero hist rejected", message.Message{TCode: message.TCodeIndirectBranchHist, Hist: 0}, false},
		{"nonzero hist ok", message.Message{TCode: message.TCodeIndirectBranchHist, Hist: 1}, true},
	}
	for _, c := range cases {
		m := c.msg
		if got := checkMsg(&m); got != c.ok {
			t.Errorf("%s: checkMsg() = %v, want %v", c.name, got, c.ok)
		}
	}
}

// buildDecoder encodes msgs on the wire with cfg and wires up a fresh
// trace.Decoder reading them through a msgio.Decoder.
func buildDecoder(t *testing.T, cfg hwcfg.Config, metrics *Metrics, msgs []message.Message) *Decoder {
	t.Helper()
	var buf []byte
	for i := range msgs {
		buf = message.Encode(buf, &msgs[i], cfg.SrcBits, cfg.TsBits, cfg.AddrBits, cfg.VAO)
	}
	md := msgio.NewDecoder(cfg, bytes.NewReader(buf), -1, 256)
	return NewDecoder(cfg, md, metrics)
}

func TestDecoder_NotSyncedRejectsRetirement(t *testing.T) {
	// WHAT: every consuming method requires a prior successful
	// SyncReset
	// WHY: there is no meaningful fullAddr/timestamp baseline before
	// the first sync message is seen.
	cfg := hwcfg.Config{AddrBits: 32, MaxStack: 4}
	d := buildDecoder(t, cfg, nil, []message.Message{
		{TCode: message.TCodeDirectBranch, ICnt: 1},
	})
	if _, _, err := d.TryRetire(1); !errors.Is(err, nexuserr.ErrTraceNotSynced) {
		t.Errorf("TryRetire() before sync = %v, want ErrTraceNotSynced", err)
	}
	if _, err := d.NextTnt(); !errors.Is(err, nexuserr.ErrTraceNotSynced) {
		t.Errorf("NextTnt() before sync = %v, want ErrTraceNotSynced", err)
	}
}

func TestDecoder_SyncThenDirectBranch(t *testing.T) {
	// WHAT: SyncReset reports the initial Sync event; a following bare
	// DirectBranch retires its I-CNT then itself as a taken branch
	// WHY: this is the minimal end-to-end retirement path: sync,
	// retire instructions, consume one unconditional branch.
	cfg := hwcfg.Config{AddrBits: 32, MaxStack: 4}
	d := buildDecoder(t, cfg, nil, []message.Message{
		{TCode: message.TCodeProgTraceSync, SyncType: 1, XAddr: 0x10},
		{TCode: message.TCodeDirectBranch, ICnt: 3},
	})

	sync, happened, err := d.SyncReset()
	if err != nil || !happened {
		t.Fatalf("SyncReset() = %+v, %v, %v", sync, happened, err)
	}
	if sync.Addr != 0x20 || sync.Sync != 1 {
		t.Errorf("SyncReset() sync = %+v, want Addr=0x20 Sync=1", sync)
	}

	retired, event, err := d.TryRetire(^uint32(0))
	if err != nil {
		t.Fatalf("TryRetire() = _, _, %v", err)
	}
	if retired != 3 || event != EventDirect {
		t.Errorf("TryRetire() = %d, %v, want 3, EventDirect", retired, event)
	}

	taken, err := d.NextTnt()
	if err != nil {
		t.Fatalf("NextTnt() = _, %v", err)
	}
	if !taken {
		t.Error("NextTnt() on a bare DirectBranch should report taken=true")
	}
}

func TestDecoder_ResourceFullHistFoldThenStop(t *testing.T) {
	// WHAT: a ResourceFull(rcode=1) message's HIST bits fold into the
	// histarray and are consumed MSB-first by NextTnt; the trailing
	// Stop message is retired once the fold is drained
	// WHY: exercises pullMsg's fold + consumeTNT's MSB-first bit order
	// together, the core of TNT accounting.
	cfg := hwcfg.Config{AddrBits: 32, MaxStack: 4}
	d := buildDecoder(t, cfg, nil, []message.Message{
		{TCode: message.TCodeProgTraceSync, SyncType: 0},
		{TCode: message.TCodeResourceFull, ResCode: 1, Hist: 0b101},
		{TCode: message.TCodeProgTraceCorrelation, StopCode: 1, CDF: 0},
	})

	if _, happened, err := d.SyncReset(); err != nil || !happened {
		t.Fatalf("SyncReset() failed: %v", err)
	}

	_, event, err := d.TryRetire(^uint32(0))
	if err != nil || event != EventDirect {
		t.Fatalf("TryRetire() = _, %v, %v, want EventDirect, nil", event, err)
	}

	first, err := d.NextTnt()
	if err != nil || first {
		t.Errorf("first NextTnt() = %v, %v, want false, nil", first, err)
	}
	second, err := d.NextTnt()
	if err != nil || !second {
		t.Errorf("second NextTnt() = %v, %v, want true, nil", second, err)
	}

	_, event, err = d.TryRetire(^uint32(0))
	if err != nil || event != EventStop {
		t.Fatalf("TryRetire() after hist drained = _, %v, %v, want EventStop, nil", event, err)
	}
	stop, err := d.NextStop()
	if err != nil || stop.EVCode != 1 {
		t.Errorf("NextStop() = %+v, %v, want EVCode=1, nil", stop, err)
	}
}

func TestDecoder_IndirectBranchWithOwnershipFold(t *testing.T) {
	// WHAT: NextIndirect reconstructs the target address via XOR and
	// folds a trailing Ownership message into the result
	// WHY: mirrors nexusrv_trace_next_indirect's look-ahead, the same
	// pattern fetchMsg uses for RepeatBranch.
	cfg := hwcfg.Config{AddrBits: 32, MaxStack: 4}
	d := buildDecoder(t, cfg, nil, []message.Message{
		{TCode: message.TCodeProgTraceSync, SyncType: 0},
		{TCode: message.TCodeIndirectBranch, BranchType: 0, XAddr: 0x55},
		{TCode: message.TCodeOwnership, OwnershipFmt: 1, OwnershipPrv: 2, OwnershipV: 1, Context: 0xAB},
	})

	if _, happened, err := d.SyncReset(); err != nil || !happened {
		t.Fatalf("SyncReset() failed: %v", err)
	}

	_, event, err := d.TryRetire(^uint32(0))
	if err != nil || event != EventIndirect {
		t.Fatalf("TryRetire() = _, %v, %v, want EventIndirect, nil", event, err)
	}

	indir, err := d.NextIndirect()
	if err != nil {
		t.Fatalf("NextIndirect() = _, %v", err)
	}
	if indir.Target != 0xAA {
		t.Errorf("NextIndirect().Target = 0x%x, want 0xAA", indir.Target)
	}
	if indir.Interrupt || indir.Exception {
		t.Errorf("NextIndirect() = %+v, want no interrupt/exception (BranchType=0)", indir)
	}
	if !indir.Ownership || indir.OwnershipFmt != 1 || indir.OwnershipPriv != 2 ||
		indir.OwnershipV != 1 || indir.Context != 0xAB {
		t.Errorf("NextIndirect() ownership fold = %+v, want the folded Ownership fields", indir)
	}
}

func TestDecoder_ErrorEventDesyncs(t *testing.T) {
	// WHAT: NextError reports the error fields and desyncs the decoder
	// WHY: an Error message always ends the current sync epoch; any
	// further retirement must re-sync first.
	cfg := hwcfg.Config{AddrBits: 32, MaxStack: 4}
	d := buildDecoder(t, cfg, nil, []message.Message{
		{TCode: message.TCodeProgTraceSync, SyncType: 0},
		{TCode: message.TCodeError, ErrorType: 3, ErrorCode: 0x42},
	})

	if _, happened, err := d.SyncReset(); err != nil || !happened {
		t.Fatalf("SyncReset() failed: %v", err)
	}

	_, event, err := d.TryRetire(^uint32(0))
	if err != nil || event != EventError {
		t.Fatalf("TryRetire() = _, %v, %v, want EventError, nil", event, err)
	}

	errEvent, err := d.NextError()
	if err != nil {
		t.Fatalf("NextError() = _, %v", err)
	}
	if errEvent.EType != 3 || errEvent.ECode != 0x42 {
		t.Errorf("NextError() = %+v, want EType=3 ECode=0x42", errEvent)
	}

	if _, _, err := d.TryRetire(1); !errors.Is(err, nexuserr.ErrTraceNotSynced) {
		t.Errorf("TryRetire() after error = %v, want ErrTraceNotSynced", err)
	}
}

func TestDecoder_ReturnStack(t *testing.T) {
	// WHAT: PushCall/PopRet/CallstackUsed expose the bounded call stack
	// WHY: a call/return pair is how a replayer reconstructs a
	// complete control-flow trace across indirect "return" branches.
	cfg := hwcfg.Config{AddrBits: 32, MaxStack: 4}
	d := buildDecoder(t, cfg, nil, nil)

	d.PushCall(0x1000)
	d.PushCall(0x2000)
	if d.CallstackUsed() != 2 {
		t.Fatalf("CallstackUsed() = %d, want 2", d.CallstackUsed())
	}
	addr, err := d.PopRet()
	if err != nil || addr != 0x2000 {
		t.Errorf("PopRet() = 0x%x, %v, want 0x2000, nil", addr, err)
	}
}

func TestDecoder_MetricsIncrementOnRetirement(t *testing.T) {
	// WHAT: a non-nil Metrics set is updated as instructions retire
	// WHY: SPEC_FULL.md §4.5 requires observability to be opt-in but
	// accurate when enabled.
	cfg := hwcfg.Config{AddrBits: 32, MaxStack: 4}
	metrics := NewMetrics(prometheus.NewRegistry())
	d := buildDecoder(t, cfg, metrics, []message.Message{
		{TCode: message.TCodeProgTraceSync, SyncType: 0},
		{TCode: message.TCodeDirectBranch, ICnt: 7},
	})

	if _, happened, err := d.SyncReset(); err != nil || !happened {
		t.Fatalf("SyncReset() failed: %v", err)
	}
	if testutil.ToFloat64(metrics.SyncEvents) != 1 {
		t.Errorf("SyncEvents = %v, want 1", testutil.ToFloat64(metrics.SyncEvents))
	}

	retired, _, err := d.TryRetire(^uint32(0))
	if err != nil || retired != 7 {
		t.Fatalf("TryRetire() = %d, _, %v, want 7, nil", retired, err)
	}
	if testutil.ToFloat64(metrics.RetiredInstructions) != 7 {
		t.Errorf("RetiredInstructions = %v, want 7", testutil.ToFloat64(metrics.RetiredInstructions))
	}
}
