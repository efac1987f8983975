// Command nxassemble reads the textio text format and reassembles the
// wire byte stream, or, in hex-dump mode, prints the assembled bytes
// as a hex dump instead of writing them raw. Grounded on
// original_source/util/assemble.c.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ganboing/nexusrv-go/hwcfg"
	"github.com/ganboing/nexusrv-go/message"
	"github.com/ganboing/nexusrv-go/textio"
)

func main() {
	var (
		hw      = flag.String("w", "", "hardware config string, see package hwcfg")
		hexMode = flag.Bool("x", false, "force hex-text-dump output instead of raw bytes")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS...] <text file> or - for stdin\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		logrus.Fatal("nxassemble: insufficient arguments")
	}

	cfg, err := hwcfg.Parse(*hw)
	if err != nil {
		logrus.WithError(err).Fatal("nxassemble: invalid hwcfg")
	}

	in, err := openInput(flag.Arg(0))
	if err != nil {
		logrus.WithError(err).Fatal("nxassemble: failed to open input")
	}
	defer in.Close()

	textMode := *hexMode || isTerminal(os.Stdout.Fd())

	r := bufio.NewReader(in)
	var buf []byte
	count := 0
	for {
		var msg message.Message
		if err := textio.Fscan(r, &msg); err != nil {
			if err == io.EOF {
				break
			}
			logrus.WithError(err).Fatal("nxassemble: parse failed")
		}
		buf = message.Encode(buf[:0], &msg, cfg.SrcBits, cfg.TsBits, cfg.AddrBits, cfg.VAO)
		if textMode {
			fmt.Fprintln(os.Stdout, hex.EncodeToString(buf))
		} else {
			if _, err := os.Stdout.Write(buf); err != nil {
				logrus.WithError(err).Fatal("nxassemble: write failed")
			}
		}
		count++
	}
	logrus.WithFields(logrus.Fields{"messages": count}).Info("nxassemble: done")
}

func openInput(name string) (*os.File, error) {
	if name == "-" {
		return os.Stdin, nil
	}
	return os.Open(name)
}

// isTerminal reports whether fd refers to a tty, the same check
// assemble.c makes (via isatty(3)) to decide whether to fall back to
// the hex-text dump rather than spraying binary at a terminal.
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), unix.TCGETS)
	return err == nil
}
