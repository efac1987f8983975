// Package hwcfg describes the hardware/implementation configuration
// that every Nexus-RV codec and state-machine decision keys off, and
// parses it from the comma-separated option string used throughout the
// tracing toolchain (e.g. "model=vendorA4,timerfreq=50MHz").
//
// Field widths mirror the RISC-V Nexus trace encoder's configuration
// registers; Parse mirrors the CLI convention of a single "-hwcfg"
// string argument rather than one flag per field.
package hwcfg

import (
	"fmt"
	"strconv"
	"strings"
)

// Config is the parsed hardware configuration.
type Config struct {
	SrcBits     uint   // width of the SRC field, 0 = absent
	TsBits      uint   // width of the TIMESTAMP field, 0 = no timestamp
	AddrBits    uint   // width of the program-counter address space
	MaxStack    uint   // upper bound on return-stack depth
	TimerFreq   uint64 // timestamp tick frequency in Hz, 0 = raw ticks
	HTM         bool   // History Trace Mode enabled
	VAO         bool   // Virtual Address Optimization
	QuirkVendor bool   // vendor quirks (see package trace)
}

// model presets, ported literally from the final revision of the
// original C model macros (MODEL_HWCFG_GENERIC32/64/P550x4/P550x8).
// vendorA4 and vendorA8 are intentionally identical: the upstream
// macros for the two presets are byte-for-byte the same string despite
// a doc comment elsewhere claiming a src-width difference between them.
var models = map[string]string{
	"generic32": "addr=32,maxstack=32",
	"generic64": "addr=64,maxstack=32",
	"vendorA4":  "src=2,ts=40,addr=48,maxstack=1024,quirk-vendor",
	"vendorA8":  "src=2,ts=40,addr=48,maxstack=1024,quirk-vendor",
}

// Parse parses a comma-separated "option,option=value,..." string into
// cfg. Later options override earlier ones, including ones implied by
// an earlier "model=" expansion, so "model=vendorA4,no-quirk-vendor"
// legally disables the quirk that the preset turns on.
func Parse(s string) (Config, error) {
	var cfg Config
	if err := apply(&cfg, s); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, s string) error {
	if s == "" {
		return nil
	}
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if err := applyOne(cfg, tok); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(cfg *Config, tok string) error {
	switch tok {
	case "quirk-vendor":
		cfg.QuirkVendor = true
		return nil
	case "no-quirk-vendor":
		cfg.QuirkVendor = false
		return nil
	case "htm":
		cfg.HTM = true
		return nil
	case "vao":
		cfg.VAO = true
		return nil
	}

	key, value, ok := strings.Cut(tok, "=")
	if !ok {
		return fmt.Errorf("hwcfg: invalid option %q", tok)
	}
	switch key {
	case "model":
		expansion, known := models[value]
		if !known {
			return fmt.Errorf("hwcfg: unknown model %q", value)
		}
		return apply(cfg, expansion)
	case "ts":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("hwcfg: invalid ts value %q: %w", value, err)
		}
		cfg.TsBits = uint(n)
	case "src":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("hwcfg: invalid src value %q: %w", value, err)
		}
		cfg.SrcBits = uint(n)
	case "addr":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("hwcfg: invalid addr value %q: %w", value, err)
		}
		cfg.AddrBits = uint(n)
	case "maxstack":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("hwcfg: invalid maxstack value %q: %w", value, err)
		}
		cfg.MaxStack = uint(n)
	case "timerfreq":
		freq, err := parseFreq(value)
		if err != nil {
			return fmt.Errorf("hwcfg: invalid timerfreq value %q: %w", value, err)
		}
		cfg.TimerFreq = freq
	default:
		return fmt.Errorf("hwcfg: unknown option %q", key)
	}
	return nil
}

// parseFreq parses an integer with an optional Hz/KHz/MHz/GHz suffix
// (case-insensitive) into a raw Hz value.
func parseFreq(s string) (uint64, error) {
	suffixes := []struct {
		suffix string
		mul    uint64
	}{
		{"ghz", 1_000_000_000},
		{"mhz", 1_000_000},
		{"khz", 1_000},
		{"hz", 1},
	}
	lower := strings.ToLower(s)
	for _, sfx := range suffixes {
		if strings.HasSuffix(lower, sfx.suffix) {
			digits := strings.TrimSpace(s[:len(s)-len(sfx.suffix)])
			n, err := strconv.ParseUint(digits, 10, 64)
			if err != nil {
				return 0, err
			}
			return n * sfx.mul, nil
		}
	}
	return strconv.ParseUint(s, 10, 64)
}
