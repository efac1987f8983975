// Command nxsplit demultiplexes a trace file by SRC into one raw
// output file per hart, named "<prefix>.<src>". Idle and unrecognized
// messages are dropped. Grounded on original_source/util/split.c.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ganboing/nexusrv-go/hwcfg"
	"github.com/ganboing/nexusrv-go/message"
	"github.com/ganboing/nexusrv-go/msgio"
)

const defaultBufferSize = 4096

func main() {
	var (
		hw     = flag.String("w", "", "hardware config string, see package hwcfg")
		prefix = flag.String("p", "split", "output file prefix")
		bufsz  = flag.Int("b", defaultBufferSize, "read buffer size")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS...] <trace file> or - for stdin\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		logrus.Fatal("nxsplit: insufficient arguments")
	}

	cfg, err := hwcfg.Parse(*hw)
	if err != nil {
		logrus.WithError(err).Fatal("nxsplit: invalid hwcfg")
	}

	in, err := openInput(flag.Arg(0))
	if err != nil {
		logrus.WithError(err).Fatal("nxsplit: failed to open input")
	}
	defer in.Close()

	dec := msgio.NewDecoder(cfg, in, -1, *bufsz)
	outputs := map[uint32]*os.File{}
	defer func() {
		for _, f := range outputs {
			f.Close()
		}
	}()

	dropped, split := 0, 0
	var buf []byte
	for {
		msg, ok, err := dec.Next()
		if err != nil {
			logrus.WithError(err).Fatal("nxsplit: decode failed")
		}
		if !ok {
			break
		}
		if msg.IsIdle() || !msg.Known() {
			dropped++
			continue
		}
		f, ok := outputs[msg.Src]
		if !ok {
			name := fmt.Sprintf("%s.%d", *prefix, msg.Src)
			f, err = os.Create(name)
			if err != nil {
				logrus.WithError(err).Fatalf("nxsplit: failed to create %s", name)
			}
			outputs[msg.Src] = f
		}
		buf = message.Encode(buf[:0], &msg, cfg.SrcBits, cfg.TsBits, cfg.AddrBits, cfg.VAO)
		if _, err := f.Write(buf); err != nil {
			logrus.WithError(err).Fatal("nxsplit: write failed")
		}
		split++
	}
	logrus.WithFields(logrus.Fields{
		"split": split, "dropped": dropped, "srcs": len(outputs),
	}).Info("nxsplit: done")
}

func openInput(name string) (*os.File, error) {
	if name == "-" {
		return os.Stdin, nil
	}
	return os.Open(name)
}
