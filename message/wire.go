package message

import "github.com/ganboing/nexusrv-go/nexuserr"

// Each wire byte carries a 6-bit MDO (message data) lane in its high
// bits and a 2-bit MSEO (message-stream end-of-X) trailer in its low
// bits: mdo = byte>>2, mseo = byte&0x3. MSEO values: 0 = continuation
// of the current field, 1 = end of field (another field follows in
// the same message), 2 = reserved/decoder error, 3 = end of message.
//
// A "field" is a run of bytes sharing one MSEO value until a
// terminating byte (mseo 1 or 3). Fixed sub-fields within a field are
// packed back to back, LSB-first across successive MDO lanes; a
// trailing variable sub-field, if present, absorbs whatever bits
// remain in the run. This mirrors pack_bits/unpack_bits in the
// original encoder/decoder (lib/msg-encoder.c, lib/msg-decoder.c).
const (
	mseoContinue = 0
	mseoEndField = 1
	mseoReserved = 2
	mseoEndMsg   = 3

	mdoBits = 6
)

func mask64(n uint) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// encoder packs fixed/variable sub-fields into MDO lanes and tags
// field/message boundaries via the MSEO trailer of the last byte
// written for that field.
type encoder struct {
	out    []byte
	bitbuf uint64
	nbits  uint
}

// writeFixed appends the low n bits of value as consecutive MDO
// lanes. It does not terminate the field; call endField once the
// field's sub-fields are all written.
func (e *encoder) writeFixed(value uint64, n uint) {
	e.bitbuf |= (value & mask64(n)) << e.nbits
	e.nbits += n
	for e.nbits >= mdoBits {
		lane := byte(e.bitbuf & 0x3F)
		e.out = append(e.out, lane<<2) // mseo=0 (continuation) until endField
		e.bitbuf >>= mdoBits
		e.nbits -= mdoBits
	}
}

// endField flushes any partial lane (zero-padded) and marks the last
// byte of the field with mseo, matching END_FIELD in the original.
// If nothing was written since the previous endField (a required
// variable sub-field can legitimately contribute the minimum nonzero
// width, but an optional one can contribute zero), the previous
// field's terminating byte is simply re-tagged, which is exactly how
// the wire format represents an empty trailing field.
func (e *encoder) endField(mseo byte) {
	if e.nbits > 0 {
		lane := byte(e.bitbuf & 0x3F)
		e.out = append(e.out, lane<<2)
		e.bitbuf = 0
		e.nbits = 0
	}
	if len(e.out) == 0 {
		e.out = append(e.out, 0)
	}
	last := len(e.out) - 1
	e.out[last] = (e.out[last] &^ 0x3) | mseo
}

// writeVarReq writes value using the minimum number of MDO bits
// needed to represent it, but never zero bits (a required variable
// field must contribute at least one bit even for value 0 so the
// decoder can distinguish "present, zero" from "absent").
func (e *encoder) writeVarReq(value uint64) {
	n := minBitsRequired(value)
	e.writeFixed(value, n)
}

// writeVarOpt writes value using the minimum number of MDO bits
// needed, or zero bits when value is zero.
func (e *encoder) writeVarOpt(value uint64) {
	if value == 0 {
		return
	}
	e.writeFixed(value, minBitsUnsigned(value))
}

// writeVAO writes a VAO (Virtual Address Optimization) encoded
// signed address: minimal signed width, rounded up to a 6-bit (MDO
// lane) boundary, capped at 64 bits.
func (e *encoder) writeVAO(value uint64, addrBits uint) {
	n := minBitsSigned(value, addrBits)
	n = ((n + mdoBits - 1) / mdoBits) * mdoBits
	if n > 64 {
		n = 64
	}
	if n == 0 {
		n = mdoBits
	}
	e.writeFixed(value, n)
}

func minBitsUnsigned(v uint64) uint {
	n := uint(0)
	for v != 0 {
		n++
		v >>= 1
	}
	if n == 0 {
		n = 1
	}
	return n
}

// minBitsRequired is minBitsUnsigned but never returns 0; a required
// variable field for value 0 is encoded in exactly one bit.
func minBitsRequired(v uint64) uint {
	if v == 0 {
		return 1
	}
	return minBitsUnsigned(v)
}

// minBitsSigned returns the minimum bit width (including sign bit)
// needed to represent the signed interpretation of value within
// addrBits, at least 1.
func minBitsSigned(value uint64, addrBits uint) uint {
	signed := signExtend(value, addrBits)
	var n uint
	if int64(signed) < 0 {
		v := ^signed
		for v != 0 {
			n++
			v >>= 1
		}
		n++ // sign bit
	} else {
		n = minBitsUnsigned(signed) + 1
	}
	if n == 0 {
		n = 1
	}
	return n
}

// signExtend sign-extends the low `bits` bits of value to a full
// 64-bit signed value (bits==0 or bits>=64 is a no-op/full-width).
func signExtend(value uint64, bits uint) uint64 {
	if bits == 0 || bits >= 64 {
		return value
	}
	signBit := uint64(1) << (bits - 1)
	value &= mask64(bits)
	if value&signBit != 0 {
		value |= ^mask64(bits)
	}
	return value
}

// decoder walks a complete message's bytes, field by field.
type decoder struct {
	buf          []byte
	pos          int // index of next unread byte (start of current/next field)
	fieldStart   int
	fieldEnd     int // index of the field-terminating byte, inclusive
	fieldMSEO    byte
	fieldValue   uint64
	fieldTotal   uint
	bitInField   uint
	fieldStarted bool
}

// beginField scans forward from d.pos to find the field's
// terminating byte (mseo != 0) and assembles its bits into a uint64
// (fields in this protocol never exceed 64 bits of content).
func (d *decoder) beginField() error {
	d.fieldStart = d.pos
	i := d.pos
	for {
		if i >= len(d.buf) {
			return nexuserr.ErrStreamTruncate
		}
		if d.buf[i]&0x3 != 0 {
			break
		}
		i++
	}
	if d.buf[i]&0x3 == mseoReserved {
		return nexuserr.ErrStreamBadMseo
	}
	d.fieldEnd = i
	d.fieldMSEO = d.buf[i] & 0x3
	d.fieldTotal = uint(i-d.pos+1) * mdoBits
	var value uint64
	for lane := 0; d.pos+lane <= i; lane++ {
		mdo := uint64(d.buf[d.pos+lane] >> 2)
		if uint(lane)*mdoBits < 64 {
			value |= mdo << (uint(lane) * mdoBits)
		}
	}
	d.fieldValue = value
	d.bitInField = 0
	d.fieldStarted = true
	return nil
}

// readFixed consumes exactly n bits from the current field.
func (d *decoder) readFixed(n uint) (uint64, error) {
	if d.bitInField+n > d.fieldTotal {
		return 0, nexuserr.ErrMsgMissingField
	}
	v := (d.fieldValue >> d.bitInField) & mask64(n)
	d.bitInField += n
	return v, nil
}

// readVar consumes all bits remaining in the current field.
// required==true makes a zero-bit remainder an error instead of 0.
func (d *decoder) readVar(required bool) (uint64, error) {
	remaining := d.fieldTotal - d.bitInField
	if remaining == 0 {
		if required {
			return 0, nexuserr.ErrMsgMissingField
		}
		return 0, nil
	}
	v := (d.fieldValue >> d.bitInField) & mask64(remaining)
	d.bitInField = d.fieldTotal
	return v, nil
}

// readVAO is readVar(required=true) followed by sign-extension to a
// full 64-bit signed value, per the VAO encoding rule.
func (d *decoder) readVAO(required bool) (uint64, error) {
	remaining := d.fieldTotal - d.bitInField
	v, err := d.readVar(required)
	if err != nil {
		return 0, err
	}
	if remaining == 0 {
		return 0, nil
	}
	return signExtend(v, remaining), nil
}

// endField advances past the field's terminating byte, ready for the
// next beginField call (or for the caller to learn this was the last
// field via fieldMSEO == mseoEndMsg).
func (d *decoder) endField() {
	d.pos = d.fieldEnd + 1
}

// consumed returns how many bytes of d.buf have been used so far,
// i.e. the length of the message once the final field has ended.
func (d *decoder) consumed() int { return d.pos }
