// Command nxdump decodes a raw Nexus-RV message stream into the
// textio human-readable format, one message per line, grounded on
// original_source/util/dump.c.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ganboing/nexusrv-go/hwcfg"
	"github.com/ganboing/nexusrv-go/msgio"
	"github.com/ganboing/nexusrv-go/nexuserr"
	"github.com/ganboing/nexusrv-go/textio"
)

const defaultBufferSize = 4096

func main() {
	var (
		hw     = flag.String("w", "", "hardware config string, see package hwcfg")
		filter = flag.Int("c", -1, "only print messages for this SRC (default: all)")
		bufsz  = flag.Int("b", defaultBufferSize, "read buffer size")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS...] <trace file> or - for stdin\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		logrus.Fatal("nxdump: insufficient arguments")
	}

	cfg, err := hwcfg.Parse(*hw)
	if err != nil {
		logrus.WithError(err).Fatal("nxdump: invalid hwcfg")
	}

	f, err := openInput(flag.Arg(0))
	if err != nil {
		logrus.WithError(err).Fatal("nxdump: failed to open input")
	}
	defer f.Close()

	dec := msgio.NewDecoder(cfg, f, int32(*filter), *bufsz)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	count := 0
	for {
		msg, ok, err := dec.Next()
		if err != nil {
			logrus.WithError(err).Fatal("nxdump: decode failed")
		}
		if !ok {
			break
		}
		offset := dec.Offset()
		fmt.Fprintf(out, "Msg #%d +%d ", count, offset)
		if _, err := textio.Fprint(out, &msg); err != nil {
			logrus.WithError(err).Fatal("nxdump: write failed")
		}
		fmt.Fprintln(out)
		count++
	}
	logrus.WithFields(logrus.Fields{"messages": count}).Info("nxdump: done")
}

func openInput(name string) (*os.File, error) {
	if name == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nexuserr.Wrap(nexuserr.ErrStreamReadFailed, err)
	}
	return f, nil
}
