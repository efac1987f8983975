package message

import "github.com/ganboing/nexusrv-go/nexuserr"

// Decode reads one complete message out of buf, which must contain at
// least the bytes of one message (sync_forward/msgio guarantee this).
// srcBits/tsBits/addrBits come from the caller's hwcfg.Config; vao
// selects VAO-aware xaddr decoding. It returns the message and the
// number of bytes consumed.
func Decode(buf []byte, srcBits, tsBits, addrBits uint, vao bool) (Message, int, error) {
	var m Message
	d := decoder{buf: buf}

	if err := d.beginField(); err != nil {
		return Message{}, 0, err
	}
	tc, err := d.readFixed(widthTCode)
	if err != nil {
		return Message{}, 0, err
	}
	m.TCode = TCode(tc)

	if m.IsIdle() {
		if d.bitInField != d.fieldTotal || d.fieldMSEO != mseoEndMsg {
			return Message{}, 0, nexuserr.ErrMsgInvalid
		}
		d.endField()
		return m, d.consumed(), nil
	}

	if srcBits > 0 {
		src, err := d.readFixed(srcBits)
		if err != nil {
			return Message{}, 0, err
		}
		m.Src = uint32(src)
	}

	if err := decodePayload(&d, &m, addrBits, vao); err != nil {
		return Message{}, 0, err
	}

	if tsBits > 0 {
		if d.fieldMSEO == mseoEndMsg {
			// payload's field already reached EOM on the wire: no
			// timestamp was written. Legal for non-sync messages,
			// required for sync ones.
			if m.IsSync() {
				return Message{}, 0, nexuserr.ErrMsgMissingField
			}
		} else {
			d.endField()
			if err := d.beginField(); err != nil {
				return Message{}, 0, err
			}
			ts, err := d.readVar(m.IsSync())
			if err != nil {
				return Message{}, 0, err
			}
			m.Timestamp = ts
		}
	}

	d.endField()
	return m, d.consumed(), nil
}

// decodePayload reads the TCODE-specific fields following TCODE/SRC,
// leaving the current decoder field positioned at its last written
// sub-field (not yet ended) so the caller can decide whether a
// trailing timestamp field follows.
func decodePayload(d *decoder, m *Message, addrBits uint, vao bool) error {
	switch m.TCode {
	case TCodeDirectBranch:
		icnt, err := d.readVar(true)
		if err != nil {
			return err
		}
		m.ICnt = uint32(icnt)

	case TCodeIndirectBranch:
		bt, err := d.readFixed(widthBTYPE)
		if err != nil {
			return err
		}
		m.BranchType = uint8(bt)
		return decodeIndirectTail(d, m, addrBits, vao, false)

	case TCodeDirectBranchSync, TCodeProgTraceSync:
		sy, err := d.readFixed(widthSYNC)
		if err != nil {
			return err
		}
		m.SyncType = uint8(sy)
		icnt, err := d.readVar(true)
		if err != nil {
			return err
		}
		m.ICnt = uint32(icnt)
		d.endField()
		if err := d.beginField(); err != nil {
			return err
		}
		xaddr, err := readXAddr(d, addrBits, vao)
		if err != nil {
			return err
		}
		m.XAddr = xaddr

	case TCodeIndirectBranchSync:
		sy, err := d.readFixed(widthSYNC)
		if err != nil {
			return err
		}
		m.SyncType = uint8(sy)
		bt, err := d.readFixed(widthBTYPE)
		if err != nil {
			return err
		}
		m.BranchType = uint8(bt)
		return decodeIndirectTail(d, m, addrBits, vao, false)

	case TCodeIndirectBranchHist:
		bt, err := d.readFixed(widthBTYPE)
		if err != nil {
			return err
		}
		m.BranchType = uint8(bt)
		return decodeIndirectTail(d, m, addrBits, vao, true)

	case TCodeIndirectBranchHistSync:
		sy, err := d.readFixed(widthSYNC)
		if err != nil {
			return err
		}
		m.SyncType = uint8(sy)
		bt, err := d.readFixed(widthBTYPE)
		if err != nil {
			return err
		}
		m.BranchType = uint8(bt)
		return decodeIndirectTail(d, m, addrBits, vao, true)

	case TCodeOwnership:
		fmtv, err := d.readFixed(widthOwnerFmt)
		if err != nil {
			return err
		}
		m.OwnershipFmt = uint8(fmtv)
		prv, err := d.readFixed(widthOwnerPrv)
		if err != nil {
			return err
		}
		m.OwnershipPrv = uint8(prv)
		v, err := d.readFixed(widthOwnerV)
		if err != nil {
			return err
		}
		m.OwnershipV = uint8(v)
		ctx, err := d.readVar(false)
		if err != nil {
			return err
		}
		m.Context = ctx

	case TCodeError:
		et, err := d.readFixed(widthETYPE)
		if err != nil {
			return err
		}
		m.ErrorType = uint8(et)
		ec, err := d.readVar(false)
		if err != nil {
			return err
		}
		m.ErrorCode = uint32(ec)

	case TCodeResourceFull:
		rc, err := d.readFixed(widthRCODE)
		if err != nil {
			return err
		}
		m.ResCode = uint8(rc)
		switch m.ResCode {
		case 0:
			icnt, err := d.readVar(true)
			if err != nil {
				return err
			}
			m.ICnt = uint32(icnt)
		case 1:
			hist, err := d.readVar(true)
			if err != nil {
				return err
			}
			m.Hist = uint32(hist)
		case 2:
			hist, err := d.readVar(true)
			if err != nil {
				return err
			}
			m.Hist = uint32(hist)
			d.endField()
			if err := d.beginField(); err != nil {
				return err
			}
			hr, err := d.readVar(true)
			if err != nil {
				return err
			}
			m.HRepeat = uint32(hr)
		default:
			rd, err := d.readVar(false)
			if err != nil {
				return err
			}
			m.ResData = uint32(rd)
		}

	case TCodeRepeatBranch:
		hr, err := d.readVar(true)
		if err != nil {
			return err
		}
		m.HRepeat = uint32(hr)

	case TCodeProgTraceCorrelation:
		ev, err := d.readFixed(widthEVCODE)
		if err != nil {
			return err
		}
		m.StopCode = uint8(ev)
		cdf, err := d.readFixed(widthCDF)
		if err != nil {
			return err
		}
		m.CDF = uint8(cdf)
		icnt, err := d.readVar(true)
		if err != nil {
			return err
		}
		m.ICnt = uint32(icnt)
		if m.CDF == 1 {
			d.endField()
			if err := d.beginField(); err != nil {
				return err
			}
			hist, err := d.readVar(true)
			if err != nil {
				return err
			}
			m.Hist = uint32(hist)
		}

	case TCodeDataAcquisition:
		idtag, err := d.readVar(true)
		if err != nil {
			return err
		}
		m.IdTag = uint32(idtag)
		d.endField()
		if err := d.beginField(); err != nil {
			return err
		}
		dq, err := d.readVar(true)
		if err != nil {
			return err
		}
		m.DqData = dq

	case TCodeICT:
		cs, err := d.readFixed(widthCKSRC)
		if err != nil {
			return err
		}
		m.CkSrc = uint8(cs)
		cdf, err := d.readFixed(widthCKDF)
		if err != nil {
			return err
		}
		m.CkDf = uint8(cdf)
		cd0, err := d.readVar(true)
		if err != nil {
			return err
		}
		m.CkData0 = cd0
		if m.CkDf > 0 {
			d.endField()
			if err := d.beginField(); err != nil {
				return err
			}
			cd1, err := d.readVar(true)
			if err != nil {
				return err
			}
			m.CkData1 = cd1
		}

	default:
		// Unrecognized TCODE (the vendor-private range, or any other
		// reserved code): the field layout is unknown, so drain field
		// by field to the end of the message instead of trying to
		// interpret its bits, matching
		// original_source/lib/msg-decoder.c:245-249's handle_rest. A
		// truncated/malformed MSEO framing still fails via
		// beginField's own error returns.
		for d.fieldMSEO != mseoEndMsg {
			d.endField()
			if err := d.beginField(); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeIndirectTail(d *decoder, m *Message, addrBits uint, vao, withHist bool) error {
	icnt, err := d.readVar(true)
	if err != nil {
		return err
	}
	m.ICnt = uint32(icnt)
	d.endField()
	if err := d.beginField(); err != nil {
		return err
	}
	xaddr, err := readXAddr(d, addrBits, vao)
	if err != nil {
		return err
	}
	m.XAddr = xaddr
	if withHist {
		d.endField()
		if err := d.beginField(); err != nil {
			return err
		}
		hist, err := d.readVar(true)
		if err != nil {
			return err
		}
		m.Hist = uint32(hist)
	}
	return nil
}

func readXAddr(d *decoder, addrBits uint, vao bool) (uint64, error) {
	if vao {
		return d.readVAO(true)
	}
	return d.readVar(true)
}

// Encode appends the wire representation of m to dst and returns the
// extended slice. srcBits/tsBits/addrBits/vao mirror Decode's.
func Encode(dst []byte, m *Message, srcBits, tsBits, addrBits uint, vao bool) []byte {
	e := encoder{}

	if m.IsIdle() {
		e.writeFixed(uint64(m.TCode), widthTCode)
		e.endField(mseoEndMsg)
		return append(dst, e.out...)
	}

	e.writeFixed(uint64(m.TCode), widthTCode)
	if srcBits > 0 {
		e.writeFixed(uint64(m.Src), srcBits)
	}

	encodePayload(&e, m, addrBits, vao)

	if tsBits > 0 {
		e.endField(mseoEndField)
		e.writeVarReq(m.Timestamp)
	}
	e.endField(mseoEndMsg)
	return append(dst, e.out...)
}

// encodePayload writes the TCODE-specific fields. The payload's last
// sub-field is left open (no endField call) so the caller can either
// fold a trailing timestamp into a fresh field or close the message
// right there.
func encodePayload(e *encoder, m *Message, addrBits uint, vao bool) {
	switch m.TCode {
	case TCodeDirectBranch:
		e.writeVarReq(uint64(m.ICnt))

	case TCodeIndirectBranch:
		e.writeFixed(uint64(m.BranchType), widthBTYPE)
		encodeIndirectTail(e, m, addrBits, vao, false)

	case TCodeDirectBranchSync, TCodeProgTraceSync:
		e.writeFixed(uint64(m.SyncType), widthSYNC)
		e.writeVarReq(uint64(m.ICnt))
		e.endField(mseoEndField)
		writeXAddr(e, m.XAddr, addrBits, vao)

	case TCodeIndirectBranchSync:
		e.writeFixed(uint64(m.SyncType), widthSYNC)
		e.writeFixed(uint64(m.BranchType), widthBTYPE)
		encodeIndirectTail(e, m, addrBits, vao, false)

	case TCodeIndirectBranchHist:
		e.writeFixed(uint64(m.BranchType), widthBTYPE)
		encodeIndirectTail(e, m, addrBits, vao, true)

	case TCodeIndirectBranchHistSync:
		e.writeFixed(uint64(m.SyncType), widthSYNC)
		e.writeFixed(uint64(m.BranchType), widthBTYPE)
		encodeIndirectTail(e, m, addrBits, vao, true)

	case TCodeOwnership:
		e.writeFixed(uint64(m.OwnershipFmt), widthOwnerFmt)
		e.writeFixed(uint64(m.OwnershipPrv), widthOwnerPrv)
		e.writeFixed(uint64(m.OwnershipV), widthOwnerV)
		e.writeVarOpt(m.Context)

	case TCodeError:
		e.writeFixed(uint64(m.ErrorType), widthETYPE)
		e.writeVarOpt(uint64(m.ErrorCode))

	case TCodeResourceFull:
		e.writeFixed(uint64(m.ResCode), widthRCODE)
		switch m.ResCode {
		case 0:
			e.writeVarReq(uint64(m.ICnt))
		case 1:
			e.writeVarReq(uint64(m.Hist))
		case 2:
			e.writeVarReq(uint64(m.Hist))
			e.endField(mseoEndField)
			e.writeVarReq(uint64(m.HRepeat))
		default:
			e.writeVarOpt(uint64(m.ResData))
		}

	case TCodeRepeatBranch:
		e.writeVarReq(uint64(m.HRepeat))

	case TCodeProgTraceCorrelation:
		e.writeFixed(uint64(m.StopCode), widthEVCODE)
		e.writeFixed(uint64(m.CDF), widthCDF)
		e.writeVarReq(uint64(m.ICnt))
		if m.CDF == 1 {
			e.endField(mseoEndField)
			e.writeVarReq(uint64(m.Hist))
		}

	case TCodeDataAcquisition:
		e.writeVarReq(uint64(m.IdTag))
		e.endField(mseoEndField)
		e.writeVarReq(m.DqData)

	case TCodeICT:
		e.writeFixed(uint64(m.CkSrc), widthCKSRC)
		e.writeFixed(uint64(m.CkDf), widthCKDF)
		e.writeVarReq(m.CkData0)
		if m.CkDf > 0 {
			e.endField(mseoEndField)
			e.writeVarReq(m.CkData1)
		}
	}
}

func encodeIndirectTail(e *encoder, m *Message, addrBits uint, vao, withHist bool) {
	e.writeVarReq(uint64(m.ICnt))
	e.endField(mseoEndField)
	writeXAddr(e, m.XAddr, addrBits, vao)
	if withHist {
		e.endField(mseoEndField)
		e.writeVarReq(uint64(m.Hist))
	}
}

func writeXAddr(e *encoder, xaddr uint64, addrBits uint, vao bool) {
	if vao {
		e.writeVAO(xaddr, addrBits)
		return
	}
	e.writeVarReq(xaddr)
}
