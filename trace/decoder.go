package trace

import (
	"math/bits"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/ganboing/nexusrv-go/histarray"
	"github.com/ganboing/nexusrv-go/hwcfg"
	"github.com/ganboing/nexusrv-go/message"
	"github.com/ganboing/nexusrv-go/msgio"
	"github.com/ganboing/nexusrv-go/nexuserr"
	"github.com/ganboing/nexusrv-go/retstack"
)

// Log is the package-level logger, swappable like msgio.Log.
var Log = logrus.StandardLogger()

// msgICntMax/msgHRepeatMax bound the I-CNT and HREPEAT fields a
// message may carry before the trace decoder rejects it as malformed,
// mirroring trace-decoder.c's MSG_ICNT_MAX/MSG_HREPEAT_MAX.
const (
	msgICntMax    = 1<<22 - 1
	msgHRepeatMax = 1<<18 - 1
)

// extendAddrBits sign-extends addr from bit (bits-1) up through bit 63.
func extendAddrBits(addr uint64, bits uint) uint64 {
	if bits == 0 || bits >= 64 {
		return addr
	}
	if addr&(1<<(bits-1)) != 0 {
		addr |= ^uint64(0) << bits
	}
	return addr
}

// Decoder folds a msgio.Decoder's message stream into a retirement
// event stream, grounded on nexusrv_trace_decoder in
// original_source/lib/trace-decoder.c.
type Decoder struct {
	msgDecoder *msgio.Decoder
	cfg        hwcfg.Config

	resHists     histarray.Array
	resICnt      uint32
	resTNTs      uint32
	consumedICnt uint32
	consumedTNTs uint8

	synced     bool
	msgPresent bool
	msg        message.Message

	fullAddr  uint64
	timestamp uint64

	returnStack *retstack.Stack

	metrics *Metrics
	session xid.ID
}

// NewDecoder builds a Decoder reading messages out of md. metrics may
// be nil to disable Prometheus instrumentation.
func NewDecoder(cfg hwcfg.Config, md *msgio.Decoder, metrics *Metrics) *Decoder {
	return &Decoder{
		msgDecoder:  md,
		cfg:         cfg,
		returnStack: retstack.New(cfg.MaxStack),
		metrics:     metrics,
		session:     xid.New(),
	}
}

// Session returns the globally-unique id tagging this decoder's
// current sync epoch. SyncReset draws a fresh one, and it appears in
// the decoder's sync-reset and error-event log lines; metrics do not
// carry it.
func (d *Decoder) Session() xid.ID { return d.session }

func checkMsg(m *message.Message) bool {
	if !m.Known() {
		return false
	}
	if m.HasICnt() && m.ICnt > msgICntMax {
		return false
	}
	if m.HasHist() && m.Hist == 0 {
		return false
	}
	if m.HasHist() && m.HRepeat > msgHRepeatMax {
		return false
	}
	return true
}

// fetchMsg ensures d.msg/d.msgPresent hold the next message to
// process, folding a trailing RepeatBranch into hrepeat the same way
// the original looks ahead after every non-sync branch message.
// Returns (fetched, err): fetched is false with err==nil when a
// message was already buffered.
func (d *Decoder) fetchMsg() (bool, error) {
	if d.msgPresent {
		return false, nil
	}
	m, ok, err := d.msgDecoder.Next()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nexuserr.ErrTraceEof
	}
	if !checkMsg(&m) {
		d.msgDecoder.RewindLast()
		return false, nexuserr.ErrMsgUnsupported
	}
	d.msg = m
	d.msgPresent = true
	if !d.msg.IsBranch() || d.msg.IsSync() {
		return true, nil
	}
	d.msg.HRepeat = 0
	msg2, ok, err := d.msgDecoder.Next()
	if err != nil {
		return false, err
	}
	if !ok || msg2.TCode != message.TCodeRepeatBranch {
		d.msgDecoder.RewindLast()
		return true, nil
	}
	d.msg.HRepeat = msg2.HRepeat
	return true, nil
}

func (d *Decoder) retireTimestamp(timestamp *uint64) {
	if d.cfg.QuirkVendor {
		d.timestamp ^= *timestamp
		*timestamp = 0
	} else {
		d.timestamp += *timestamp
	}
}

func (d *Decoder) availableTNTs() uint32 {
	tnts := d.resTNTs
	if d.msgPresent && d.msg.HasHist() {
		tnts += message.HistBits(d.msg.Hist)
	}
	return tnts - uint32(d.consumedTNTs)
}

// consumeTNT drains any empty (timestamp-only) histarray elements,
// then consumes one TNT bit MSB-first, retiring the owning element's
// timestamp once its HIST bits are exhausted.
func (d *Decoder) consumeTNT() bool {
	for d.resHists.Size() > 0 {
		el, _ := d.resHists.Front()
		if el.Hist != 0 {
			break
		}
		d.retireTimestamp(&el.Timestamp)
		d.resHists.Pop()
	}
	if d.resTNTs == 0 {
		histBits := message.HistBits(d.msg.Hist)
		d.consumedTNTs++
		return d.msg.Hist&(1<<(histBits-uint(d.consumedTNTs))) != 0
	}
	el, _ := d.resHists.Front()
	histBits := message.HistBits(el.Hist)
	d.consumedTNTs++
	tnt := el.Hist&(1<<(histBits-uint(d.consumedTNTs))) != 0
	if uint(histBits) != uint(d.consumedTNTs) {
		return tnt
	}
	d.consumedTNTs = 0
	d.retireTimestamp(&el.Timestamp)
	d.resTNTs -= uint32(histBits)
	el.HRepeat--
	if el.HRepeat == 0 {
		d.resHists.Pop()
	} else {
		el.Timestamp = 0
		d.resHists.UpdateFront(el)
	}
	return tnt
}

func (d *Decoder) availableICnt() uint32 {
	icnt := d.resICnt
	if d.msgPresent && d.msg.HasICnt() {
		icnt += d.msg.ICnt
	}
	return icnt - d.consumedICnt
}

func (d *Decoder) consumeICnt(icnt uint32) {
	if d.resICnt >= icnt {
		d.resICnt -= icnt
		return
	}
	d.consumedICnt += icnt - d.resICnt
	d.resICnt = 0
}

// pullMsg folds a buffered ResourceFull message into resHists/resTNTs,
// returning (consumed, err); (false, nil) means no ResourceFull
// message is pending (either nothing was buffered, or what's buffered
// isn't a ResourceFull).
func (d *Decoder) pullMsg() (bool, error) {
	if _, err := d.fetchMsg(); err != nil {
		return false, err
	}
	if !d.msg.IsRes() {
		return false, nil
	}
	if d.resHists.Size() >= msgICntMax {
		return false, nexuserr.ErrTraceHistOverflow
	}
	el := histarray.Element{Timestamp: d.msg.Timestamp, HRepeat: 1}
	switch {
	case d.msg.HasICnt():
		d.resICnt += d.msg.ICnt
		if d.resICnt > ^uint32(0)-msgICntMax {
			return false, nexuserr.ErrTraceIcntOverflow
		}
	case d.msg.HasHist():
		el.Hist = d.msg.Hist
		if d.msg.HRepeat != 0 {
			el.HRepeat = d.msg.HRepeat
		}
	case d.cfg.QuirkVendor:
		switch d.msg.ResCode {
		case 8:
			el.Hist = 0b10
			el.HRepeat = d.msg.ResData
		case 9:
			el.Hist = 0b11
			el.HRepeat = d.msg.ResData
		default:
			return false, nexuserr.ErrMsgUnsupported
		}
		if el.HRepeat == 0 {
			return false, nexuserr.ErrMsgUnsupported
		}
	default:
		return false, nexuserr.ErrMsgUnsupported
	}
	d.resHists.Push(el)
	d.resTNTs += el.HRepeat * message.HistBits(el.Hist)
	d.msgPresent = false
	return true, nil
}

// retireMsg finalizes the currently-buffered message: a sync branch is
// downgraded to a bare ProgTraceSync (so sync-event reporting still
// sees it), a non-sync branch decrements its folded hrepeat count or
// clears, and everything else retires its timestamp outright.
func (d *Decoder) retireMsg() {
	d.consumedICnt = 0
	d.consumedTNTs = 0
	if d.msg.IsBranch() {
		if d.msg.IsSync() {
			d.timestamp = d.msg.Timestamp
			d.msg.TCode = message.TCodeProgTraceSync
			d.msg.ICnt = 0
			d.msg.Hist = 0
		} else {
			d.retireTimestamp(&d.msg.Timestamp)
			if d.msg.HRepeat != 0 {
				d.msg.HRepeat--
			} else {
				d.msgPresent = false
			}
		}
		return
	}
	if d.msg.IsSync() {
		d.timestamp = d.msg.Timestamp
		d.fullAddr = d.msg.XAddr
		d.returnStack.Clear()
		if d.metrics != nil {
			d.metrics.ReturnStackDepth.Set(0)
		}
	} else {
		d.retireTimestamp(&d.msg.Timestamp)
	}
	d.msgPresent = false
}

// SyncReset discards messages until a sync message is found, resets
// every resource accumulator, and reports the resulting Sync event.
// If already synced, it's a no-op: the returned bool is false and the
// zero Sync is returned.
func (d *Decoder) SyncReset() (Sync, bool, error) {
	if d.synced {
		return Sync{}, false, nil
	}
	for {
		if _, err := d.fetchMsg(); err != nil {
			return Sync{}, false, err
		}
		if d.msg.IsSync() {
			break
		}
		d.msgPresent = false
	}
	d.resHists.Clear()
	d.resTNTs = 0
	d.resICnt = 0
	d.consumedTNTs = 0
	d.consumedICnt = 0
	d.synced = true
	d.session = xid.New()
	d.msg.TCode = message.TCodeProgTraceSync
	d.msg.ICnt = 0
	d.msg.Hist = 0
	sync, err := d.NextSync()
	if err == nil {
		Log.WithFields(logrus.Fields{"session": d.session.String(), "addr": sync.Addr}).Debug("trace: sync reset")
		if d.metrics != nil {
			d.metrics.SyncEvents.Inc()
		}
	}
	return sync, err == nil, err
}

// TryRetire attempts to retire up to icnt instructions, pulling
// ResourceFull messages as needed. It returns the number of
// instructions actually retired (which may be less than icnt if an
// event interrupts retirement) and the event, if any, that follows.
func (d *Decoder) TryRetire(icnt uint32) (uint32, Event, error) {
	if !d.synced {
		return 0, EventNone, nexuserr.ErrTraceNotSynced
	}
	if icnt > 1<<31-1 {
		icnt = 1<<31 - 1
	}
	consumedAnything := true
	for {
		avail := d.availableICnt()
		if icnt < avail {
			d.consumeICnt(icnt)
			if d.metrics != nil && icnt > 0 {
				d.metrics.RetiredInstructions.Add(float64(icnt))
			}
			return icnt, EventNone, nil
		}
		if !consumedAnything {
			break
		}
		pulled, err := d.pullMsg()
		if err != nil {
			return 0, EventNone, err
		}
		consumedAnything = pulled
	}

	retired := d.availableICnt()
	d.consumeICnt(retired)
	if d.metrics != nil && retired > 0 {
		d.metrics.RetiredInstructions.Add(float64(retired))
	}

	var event Event
	switch {
	case d.msg.IsError():
		event = EventError
	case d.availableTNTs() > 0:
		event = EventDirect
	case d.msg.IsBranch():
		switch {
		case d.msg.IsIndirBranch():
			if d.msg.IsSync() {
				event = EventIndirectSync
			} else if d.msg.BranchType != 0 {
				event = EventTrap
			} else {
				event = EventIndirect
			}
		case d.msg.IsSync():
			event = EventDirectSync
		default:
			event = EventDirect
		}
	case d.msg.IsSync():
		event = EventSync
	case d.msg.IsStop():
		event = EventStop
	default:
		event = EventNone
	}
	return retired, event, nil
}

// NextTnt consumes a single pending TNT bit, retiring the owning
// direct-branch message once its last bit is consumed. It returns
// whether the branch was taken.
func (d *Decoder) NextTnt() (bool, error) {
	if !d.synced {
		return false, nexuserr.ErrTraceNotSynced
	}
	for {
		if d.availableTNTs() > 0 {
			tnt := d.consumeTNT()
			if d.metrics != nil {
				d.metrics.RetiredTNTBits.Inc()
			}
			return tnt, nil
		}
		pulled, err := d.pullMsg()
		if err != nil {
			return false, err
		}
		if !pulled {
			break
		}
	}
	if d.availableICnt() > 0 {
		return false, nil
	}
	if !d.msg.IsBranch() || d.msg.IsIndirBranch() {
		return false, nexuserr.ErrTraceMismatch
	}
	d.retireMsg()
	return true, nil
}

// PushCall pushes a return-site address onto the return-address stack.
func (d *Decoder) PushCall(callsite uint64) {
	d.returnStack.Push(callsite)
	if d.metrics != nil {
		d.metrics.ReturnStackDepth.Set(float64(d.returnStack.Used()))
	}
}

// PopRet pops a return-site address off the return-address stack.
func (d *Decoder) PopRet() (uint64, error) {
	addr, err := d.returnStack.Pop()
	if d.metrics != nil {
		d.metrics.ReturnStackDepth.Set(float64(d.returnStack.Used()))
	}
	return addr, err
}

// CallstackUsed reports the current return-address stack depth.
func (d *Decoder) CallstackUsed() uint { return d.returnStack.Used() }

// NextIndirect consumes a pending indirect-branch message, reporting
// the reconstructed target address and any interrupt/exception/
// ownership info riding along with it.
func (d *Decoder) NextIndirect() (Indirect, error) {
	if !d.synced {
		return Indirect{}, nexuserr.ErrTraceNotSynced
	}
	if _, err := d.fetchMsg(); err != nil {
		return Indirect{}, err
	}
	if d.availableICnt() > 0 || d.availableTNTs() > 0 {
		return Indirect{}, nexuserr.ErrTraceMismatch
	}
	if !d.msg.IsBranch() || !d.msg.IsIndirBranch() {
		return Indirect{}, nexuserr.ErrTraceMismatch
	}
	if d.msg.IsSync() {
		d.fullAddr = d.msg.XAddr
	} else {
		d.fullAddr ^= d.msg.XAddr
		d.msg.XAddr = 0
	}

	var indir Indirect
	indir.Target = extendAddrBits(d.fullAddr<<1, d.cfg.AddrBits)
	switch d.msg.BranchType {
	case 1:
		indir.Interrupt = true
	case 2:
		indir.Exception = true
	case 3:
		indir.Interrupt = true
		indir.Exception = true
	}

	d.retireMsg()

	msg2, ok, err := d.msgDecoder.Next()
	if err != nil {
		return Indirect{}, err
	}
	if !ok || msg2.TCode != message.TCodeOwnership {
		d.msgDecoder.RewindLast()
		return indir, nil
	}
	indir.Ownership = true
	indir.OwnershipFmt = msg2.OwnershipFmt
	indir.OwnershipPriv = msg2.OwnershipPrv
	indir.OwnershipV = msg2.OwnershipV
	indir.Context = msg2.Context
	return indir, nil
}

// NextSync consumes a pending ProgTraceSync-family message, reporting
// its sync type and fully-reconstructed address.
func (d *Decoder) NextSync() (Sync, error) {
	if !d.synced {
		return Sync{}, nexuserr.ErrTraceNotSynced
	}
	if _, err := d.fetchMsg(); err != nil {
		return Sync{}, err
	}
	if d.availableICnt() > 0 || d.availableTNTs() > 0 {
		return Sync{}, nexuserr.ErrTraceMismatch
	}
	if !d.msg.IsSync() || d.msg.IsBranch() {
		return Sync{}, nexuserr.ErrTraceMismatch
	}
	sync := Sync{
		Sync: d.msg.SyncType,
		Addr: extendAddrBits(d.msg.XAddr<<1, d.cfg.AddrBits),
	}
	d.retireMsg()
	return sync, nil
}

// NextError consumes a pending Error message, draining every
// remaining accumulator (including retiring every queued histarray
// element's timestamp), and desyncs the decoder.
func (d *Decoder) NextError() (ErrorEvent, error) {
	if !d.synced {
		return ErrorEvent{}, nexuserr.ErrTraceNotSynced
	}
	if _, err := d.fetchMsg(); err != nil {
		return ErrorEvent{}, err
	}
	if d.msg.TCode != message.TCodeError {
		return ErrorEvent{}, nexuserr.ErrTraceMismatch
	}
	errEvent := ErrorEvent{ECode: d.msg.ErrorCode, EType: d.msg.ErrorType}

	d.resICnt = 0
	d.resTNTs = 0
	d.consumedICnt = 0
	d.consumedTNTs = 0
	for d.resHists.Size() > 0 {
		el, _ := d.resHists.Front()
		d.retireTimestamp(&el.Timestamp)
		d.resHists.Pop()
	}
	d.retireMsg()
	d.synced = false

	Log.WithFields(logrus.Fields{"session": d.session.String(), "ecode": errEvent.ECode}).Warn("trace: error event")
	if d.metrics != nil {
		d.metrics.ErrorEvents.Inc()
	}
	return errEvent, nil
}

// NextStop consumes a pending ProgTraceCorrelation (stop) message and
// desyncs the decoder.
func (d *Decoder) NextStop() (Stop, error) {
	if !d.synced {
		return Stop{}, nexuserr.ErrTraceNotSynced
	}
	if _, err := d.fetchMsg(); err != nil {
		return Stop{}, err
	}
	if d.availableICnt() > 0 || d.availableTNTs() > 0 {
		return Stop{}, nexuserr.ErrTraceMismatch
	}
	if d.msg.TCode != message.TCodeProgTraceCorrelation {
		return Stop{}, nexuserr.ErrTraceMismatch
	}
	stop := Stop{EVCode: d.msg.StopCode}
	d.retireMsg()
	d.synced = false

	if d.metrics != nil {
		d.metrics.StopEvents.Inc()
	}
	return stop, nil
}

// AddTimestamp retires a caller-supplied timestamp delta the trace
// decoder doesn't itself own (e.g. one read out-of-band via textio).
func (d *Decoder) AddTimestamp(timestamp uint64) {
	d.retireTimestamp(&timestamp)
}

// Time returns the accumulated timestamp, masked to the configured
// TsBits and converted from ticks to nanoseconds if TimerFreq is set.
func (d *Decoder) Time() uint64 {
	t := d.timestamp
	if d.cfg.TsBits < 64 {
		t &= 1<<d.cfg.TsBits - 1
	}
	if d.cfg.TimerFreq == 0 {
		return t
	}
	hi, lo := bits.Mul64(t, 1_000_000_000)
	q, _ := bits.Div64(hi, lo, d.cfg.TimerFreq)
	return q
}
