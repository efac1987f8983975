package message

// TCode is the 6-bit message type tag that begins every Nexus-RV
// message on the wire.
type TCode uint8

// Message type tags, numbered exactly as the upstream Nexus-RV
// encoder emits them. DataAcquisition and ICT are the two families
// supplemented from original_source/ (see SPEC_FULL.md §3.2.1); their
// numeric tags are not present in the filtered msg-types.h (which
// defines "known" without mentioning them even though msg-printer.c
// and msg-reader.c handle them), so they are assigned unused codes
// outside the vendor-private range: DataAcquisition takes 5 and ICT
// takes 34, the code right after ProgTraceCorrelation.
const (
	TCodeOwnership             TCode = 2
	TCodeDirectBranch          TCode = 3
	TCodeIndirectBranch        TCode = 4
	TCodeDataAcquisition       TCode = 5
	TCodeError                 TCode = 8
	TCodeProgTraceSync         TCode = 9
	TCodeDirectBranchSync      TCode = 11
	TCodeIndirectBranchSync    TCode = 12
	TCodeResourceFull          TCode = 27
	TCodeIndirectBranchHist    TCode = 28
	TCodeIndirectBranchHistSync TCode = 29
	TCodeRepeatBranch          TCode = 30
	TCodeProgTraceCorrelation  TCode = 33
	TCodeICT                   TCode = 34
	TCodeVendorStart           TCode = 56
	TCodeVendorLast            TCode = 62
	TCodeIdle                  TCode = 63
)

// Bit widths of fixed sub-fields, named after the upstream protocol.
const (
	widthTCode   = 6
	widthETYPE   = 4
	widthRCODE   = 4
	widthEVCODE  = 4
	widthCDF     = 2
	widthSYNC    = 4
	widthBTYPE   = 2
	widthOwnerFmt = 2
	widthOwnerPrv = 2
	widthOwnerV   = 1
	widthCKSRC    = 6
	widthCKDF     = 2
)

var tcodeNames = map[TCode]string{
	TCodeOwnership:              "Ownership",
	TCodeDirectBranch:           "DirectBranch",
	TCodeIndirectBranch:         "IndirectBranch",
	TCodeDataAcquisition:        "DataAcquisition",
	TCodeError:                  "Error",
	TCodeProgTraceSync:          "ProgTraceSync",
	TCodeDirectBranchSync:       "DirectBranchSync",
	TCodeIndirectBranchSync:     "IndirectBranchSync",
	TCodeResourceFull:           "ResourceFull",
	TCodeIndirectBranchHist:     "IndirectBranchHist",
	TCodeIndirectBranchHistSync: "IndirectBranchHistSync",
	TCodeRepeatBranch:           "RepeatBranch",
	TCodeProgTraceCorrelation:   "ProgTraceCorrelation",
	TCodeICT:                    "ICT",
	TCodeIdle:                   "Idle",
}

// String renders the tcode the way nexusrv_tcode_str does: a short
// mnemonic for known codes, "Vendor" for the vendor-private range,
// "Unknown" otherwise.
func (t TCode) String() string {
	if name, ok := tcodeNames[t]; ok {
		return name
	}
	if t >= TCodeVendorStart && t <= TCodeVendorLast {
		return "Vendor"
	}
	return "Unknown"
}
