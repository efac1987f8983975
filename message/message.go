package message

import "math/bits"

// Message is a single decoded Nexus-RV trace message: a tagged record
// with one discriminant (TCode) and the union of every TCODE family's
// payload fields, mirroring the upstream C union-of-structs layout
// (see original_source/include/libnexus-rv/msg-types.h). Which fields
// are meaningful for a given message is determined entirely by the
// predicates below, the same way the decoder and the text-I/O mirror
// decide what to read and print.
type Message struct {
	Timestamp uint64
	Src       uint32
	TCode     TCode

	// Ownership
	OwnershipFmt uint8
	OwnershipPrv uint8
	OwnershipV   uint8
	Context      uint64

	// Branch family
	SyncType   uint8
	BranchType uint8

	// Error
	ErrorType uint8
	ErrorCode uint32

	// ResourceFull / ProgTraceCorrelation
	ResCode  uint8
	ResData  uint32
	StopCode uint8
	CDF      uint8

	ICnt    uint32
	XAddr   uint64
	Hist    uint32
	HRepeat uint32

	// DataAcquisition (supplemented, SPEC_FULL.md §3.2.1)
	IdTag  uint32
	DqData uint64

	// ICT (supplemented, SPEC_FULL.md §3.2.1)
	CkSrc   uint8
	CkDf    uint8
	CkData0 uint64
	CkData1 uint64
}

// Known reports whether tcode is a message family this decoder
// understands. ProgTraceCorrelation is only known for cdf<2 (cdf==2 is
// marked unknown upstream, see SPEC_FULL.md §9 Open Questions).
// DataAcquisition and ICT are known but inert supplemented families
// (§3.2.1): the original's own "known" predicate omits them even
// though its printer/reader handle them, an inconsistency this port
// resolves in favor of treating them as known.
func (m *Message) Known() bool {
	switch m.TCode {
	case TCodeIdle, TCodeResourceFull, TCodeDirectBranch, TCodeDirectBranchSync,
		TCodeIndirectBranch, TCodeIndirectBranchSync, TCodeIndirectBranchHist,
		TCodeIndirectBranchHistSync, TCodeRepeatBranch, TCodeError, TCodeOwnership,
		TCodeProgTraceSync, TCodeDataAcquisition, TCodeICT:
		return true
	case TCodeProgTraceCorrelation:
		return m.CDF < 2
	default:
		return false
	}
}

func (m *Message) IsIdle() bool { return m.TCode == TCodeIdle }

// HasSrc reports whether a SRC field is present on the wire for this
// message (everything except Idle).
func (m *Message) HasSrc() bool { return !m.IsIdle() }

func (m *Message) IsBranch() bool {
	switch m.TCode {
	case TCodeDirectBranch, TCodeDirectBranchSync, TCodeIndirectBranch,
		TCodeIndirectBranchSync, TCodeIndirectBranchHist, TCodeIndirectBranchHistSync:
		return true
	default:
		return false
	}
}

func (m *Message) IsIndirBranch() bool {
	switch m.TCode {
	case TCodeIndirectBranch, TCodeIndirectBranchSync, TCodeIndirectBranchHist,
		TCodeIndirectBranchHistSync:
		return true
	default:
		return false
	}
}

func (m *Message) IsRes() bool { return m.TCode == TCodeResourceFull }

func (m *Message) IsSync() bool {
	switch m.TCode {
	case TCodeDirectBranchSync, TCodeIndirectBranchSync, TCodeIndirectBranchHistSync,
		TCodeProgTraceSync:
		return true
	default:
		return false
	}
}

func (m *Message) IsError() bool { return m.TCode == TCodeError }
func (m *Message) IsStop() bool  { return m.TCode == TCodeProgTraceCorrelation }

func (m *Message) HasICnt() bool {
	switch m.TCode {
	case TCodeResourceFull:
		return m.ResCode == 0
	case TCodeDirectBranch, TCodeDirectBranchSync, TCodeIndirectBranch,
		TCodeIndirectBranchSync, TCodeIndirectBranchHist, TCodeIndirectBranchHistSync,
		TCodeProgTraceSync, TCodeProgTraceCorrelation:
		return true
	default:
		return false
	}
}

func (m *Message) HasXAddr() bool {
	switch m.TCode {
	case TCodeIndirectBranch, TCodeIndirectBranchSync, TCodeIndirectBranchHist,
		TCodeIndirectBranchHistSync, TCodeDirectBranchSync, TCodeProgTraceSync:
		return true
	default:
		return false
	}
}

func (m *Message) HasHist() bool {
	switch m.TCode {
	case TCodeResourceFull:
		return m.ResCode == 1 || m.ResCode == 2
	case TCodeProgTraceCorrelation:
		return m.CDF == 1
	case TCodeIndirectBranchHist, TCodeIndirectBranchHistSync:
		return true
	default:
		return false
	}
}

// KnownRescode reports whether rcode is a ResourceFull sub-code this
// decoder accepts. rcode<3 is always known; rcode 8/9 are only known
// under the vendor quirk (synthesized hist patterns, see package
// trace).
func KnownRescode(rcode uint8, quirkVendor bool) bool {
	if rcode < 3 {
		return true
	}
	return quirkVendor && (rcode == 8 || rcode == 9)
}

// HistBits returns the bit position of hist's most significant set
// bit (the "stop bit"), excluded from the count, or 0 if hist==0.
func HistBits(hist uint32) uint {
	if hist == 0 {
		return 0
	}
	return uint(bits.Len32(hist) - 1)
}
