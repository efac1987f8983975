// Package textio implements the human-readable mirror of
// message.Message: Fprint/Fscan pairs that losslessly round-trip a
// decoded message to and from " NAME=VALUE" text, grounded on
// original_source/lib/msg-printer.c (nexusrv_print_msg) and
// lib/msg-reader.c (nexusrv_read_msg). The DataAcquisition/ICT field
// order is supplemented per SPEC_FULL.md §6.2/§3.2.1: those two
// original files are the only ones that ever mention those TCODEs.
package textio

import (
	"fmt"
	"io"

	"github.com/ganboing/nexusrv-go/message"
	"github.com/ganboing/nexusrv-go/nexuserr"
)

// Fprint writes msg to w in the " NAME=VALUE"-per-field text format
// described in SPEC_FULL.md §6.2, returning the byte count written
// (mirroring fprintf's return value) and the first write error, if
// any.
func Fprint(w io.Writer, msg *message.Message) (int, error) {
	total := 0
	var writeErr error
	write := func(format string, args ...interface{}) bool {
		n, err := fmt.Fprintf(w, format, args...)
		total += n
		if err != nil {
			writeErr = err
			return false
		}
		return true
	}

	if !write("%s Time=%d TCODE=%d", msg.TCode, msg.Timestamp, uint8(msg.TCode)) {
		return total, writeErr
	}
	if msg.HasSrc() && !write(" Src=%d", msg.Src) {
		return total, writeErr
	}
	if msg.IsIdle() {
		return total, nil
	}

	switch msg.TCode {
	case message.TCodeOwnership:
		write(" FORMAT=%d PRV=%d V=%d CONTEXT=0x%x",
			msg.OwnershipFmt, msg.OwnershipPrv, msg.OwnershipV, msg.Context)
	case message.TCodeError:
		write(" ETYPE=%d ECODE=0x%x", msg.ErrorType, msg.ErrorCode)
	case message.TCodeDataAcquisition:
		write(" IDTAG=0x%x DQDATA=0x%x", msg.IdTag, msg.DqData)
	case message.TCodeResourceFull:
		if !write(" RCODE=%d", msg.ResCode) {
			break
		}
		switch {
		case msg.ResCode > 2:
			write(" RDATA=0x%x", msg.ResData)
		case msg.ResCode == 0:
			write(" ICNT=%d", msg.ICnt)
		case msg.ResCode == 1:
			write(" HIST=0x%x", msg.Hist)
		case msg.ResCode == 2:
			write(" HIST=0x%x HREPEAT=%d", msg.Hist, msg.HRepeat)
		}
	case message.TCodeRepeatBranch:
		write(" HREPEAT=%d", msg.HRepeat)
	case message.TCodeProgTraceCorrelation:
		if !write(" EVCODE=%d CDF=%d ICNT=%d", msg.StopCode, msg.CDF, msg.ICnt) {
			break
		}
		if msg.CDF == 1 {
			write(" HIST=0x%x", msg.Hist)
		}
	case message.TCodeICT:
		if !write(" CKSRC=%d CKDF=%d CKDATA0=0x%x", msg.CkSrc, msg.CkDf, msg.CkData0) {
			break
		}
		if msg.CkDf > 0 {
			write(" CKDATA1=0x%x", msg.CkData1)
		}
	default:
		if msg.IsSync() && !write(" SYNC=%d", msg.SyncType) {
			break
		}
		if msg.IsIndirBranch() && !write(" BTYPE=%d", msg.BranchType) {
			break
		}
		if msg.HasICnt() && !write(" ICNT=%d", msg.ICnt) {
			break
		}
		if msg.HasXAddr() && !write(" XADDR=0x%x", msg.XAddr) {
			break
		}
		if msg.HasHist() {
			write(" HIST=0x%x", msg.Hist)
		}
	}
	return total, writeErr
}

// Fscan reads one message out of r in the Fprint format. A short or
// malformed field reports nexuserr.ErrMsgMissingField, mirroring
// msg-reader.c's CHECK_SCANF convention.
func Fscan(r io.Reader, msg *message.Message) error {
	*msg = message.Message{}
	var name string
	if _, err := fmt.Fscan(r, &name); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return nexuserr.ErrMsgMissingField
	}
	if err := scanField(r, " Time=%d", &msg.Timestamp); err != nil {
		return err
	}
	var tcode uint8
	if err := scanField(r, " TCODE=%d", &tcode); err != nil {
		return err
	}
	msg.TCode = message.TCode(tcode)
	if msg.IsIdle() {
		return nil
	}
	var src uint32
	if err := scanField(r, " Src=%d", &src); err != nil {
		return err
	}
	msg.Src = src

	switch msg.TCode {
	case message.TCodeOwnership:
		if err := scanField(r, " FORMAT=%d", &msg.OwnershipFmt); err != nil {
			return err
		}
		if err := scanField(r, " PRV=%d", &msg.OwnershipPrv); err != nil {
			return err
		}
		if err := scanField(r, " V=%d", &msg.OwnershipV); err != nil {
			return err
		}
		return scanField(r, " CONTEXT=0x%x", &msg.Context)
	case message.TCodeError:
		if err := scanField(r, " ETYPE=%d", &msg.ErrorType); err != nil {
			return err
		}
		return scanField(r, " ECODE=0x%x", &msg.ErrorCode)
	case message.TCodeDataAcquisition:
		if err := scanField(r, " IDTAG=0x%x", &msg.IdTag); err != nil {
			return err
		}
		return scanField(r, " DQDATA=0x%x", &msg.DqData)
	case message.TCodeResourceFull:
		if err := scanField(r, " RCODE=%d", &msg.ResCode); err != nil {
			return err
		}
		if msg.ResCode > 2 {
			return scanField(r, " RDATA=0x%x", &msg.ResData)
		}
		switch msg.ResCode {
		case 0:
			return scanField(r, " ICNT=%d", &msg.ICnt)
		case 1:
			return scanField(r, " HIST=0x%x", &msg.Hist)
		case 2:
			if err := scanField(r, " HIST=0x%x", &msg.Hist); err != nil {
				return err
			}
			return scanField(r, " HREPEAT=%d", &msg.HRepeat)
		}
		return nil
	case message.TCodeRepeatBranch:
		return scanField(r, " HREPEAT=%d", &msg.HRepeat)
	case message.TCodeProgTraceCorrelation:
		if err := scanField(r, " EVCODE=%d", &msg.StopCode); err != nil {
			return err
		}
		if err := scanField(r, " CDF=%d", &msg.CDF); err != nil {
			return err
		}
		if err := scanField(r, " ICNT=%d", &msg.ICnt); err != nil {
			return err
		}
		if msg.CDF == 1 {
			return scanField(r, " HIST=0x%x", &msg.Hist)
		}
		return nil
	case message.TCodeICT:
		if err := scanField(r, " CKSRC=%d", &msg.CkSrc); err != nil {
			return err
		}
		if err := scanField(r, " CKDF=%d", &msg.CkDf); err != nil {
			return err
		}
		if err := scanField(r, " CKDATA0=0x%x", &msg.CkData0); err != nil {
			return err
		}
		if msg.CkDf > 0 {
			return scanField(r, " CKDATA1=0x%x", &msg.CkData1)
		}
		return nil
	default:
		if msg.IsSync() {
			if err := scanField(r, " SYNC=%d", &msg.SyncType); err != nil {
				return err
			}
		}
		if msg.IsIndirBranch() {
			if err := scanField(r, " BTYPE=%d", &msg.BranchType); err != nil {
				return err
			}
		}
		if msg.HasICnt() {
			if err := scanField(r, " ICNT=%d", &msg.ICnt); err != nil {
				return err
			}
		}
		if msg.HasXAddr() {
			if err := scanField(r, " XADDR=0x%x", &msg.XAddr); err != nil {
				return err
			}
		}
		if msg.HasHist() {
			if err := scanField(r, " HIST=0x%x", &msg.Hist); err != nil {
				return err
			}
		}
		return nil
	}
}

// scanField reads exactly one "NAME=VALUE" token from r into dst,
// translating any scan failure into nexuserr.ErrMsgMissingField the
// same way msg-reader.c's CHECK_SCANF macro does.
func scanField(r io.Reader, format string, dst interface{}) error {
	n, err := fmt.Fscanf(r, format, dst)
	if err != nil || n < 1 {
		return nexuserr.ErrMsgMissingField
	}
	return nil
}
