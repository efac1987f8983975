// Command nxpatch runs a comma-separated list of commands
// (seek=N, show, next, icnt=N) against a trace file opened read-write,
// re-seeking and re-initializing the decoder after each one. icnt=N
// rewrites a message's I-CNT field in place via pwrite(2), grounded on
// original_source/util/patch.c.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ganboing/nexusrv-go/hwcfg"
	"github.com/ganboing/nexusrv-go/message"
	"github.com/ganboing/nexusrv-go/msgio"
	"github.com/ganboing/nexusrv-go/nexuserr"
	"github.com/ganboing/nexusrv-go/textio"
)

const defaultBufferSize = 4096

func main() {
	var (
		hw    = flag.String("w", "", "hardware config string, see package hwcfg")
		bufsz = flag.Int("b", defaultBufferSize, "read buffer size")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS...] <trace file> <cmd>[,<cmd>...]\n\n"+
			"Commands: seek=N, show, next, icnt=N\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 2 {
		logrus.Fatal("nxpatch: insufficient arguments")
	}

	cfg, err := hwcfg.Parse(*hw)
	if err != nil {
		logrus.WithError(err).Fatal("nxpatch: invalid hwcfg")
	}

	fd, err := unix.Open(flag.Arg(0), unix.O_RDWR, 0)
	if err != nil {
		logrus.WithError(err).Fatal("nxpatch: failed to open file")
	}
	defer unix.Close(fd)

	p := &patcher{cfg: cfg, fd: fd, bufsz: *bufsz}
	for _, cmd := range strings.Split(flag.Arg(1), ",") {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if err := p.run(cmd); err != nil {
			logrus.WithError(err).Fatalf("nxpatch: command %q failed", cmd)
		}
	}
	logrus.WithFields(logrus.Fields{"base": p.base}).Info("nxpatch: done")
}

type patcher struct {
	cfg   hwcfg.Config
	fd    int
	bufsz int
	base  int64
}

// decodeOne seeks the underlying fd to p.base, reinitializes a fresh
// decoder there, and decodes exactly one message.
func (p *patcher) decodeOne() (message.Message, []byte, error) {
	if _, err := unix.Seek(p.fd, p.base, unix.SEEK_SET); err != nil {
		return message.Message{}, nil, err
	}
	dec := msgio.NewDecoder(p.cfg, msgio.FileSource{Fd: p.fd}, -1, p.bufsz)
	msg, ok, err := dec.Next()
	if err != nil {
		return message.Message{}, nil, err
	}
	if !ok {
		return message.Message{}, nil, nexuserr.ErrTraceEof
	}
	raw := append([]byte(nil), dec.LastMsg()...)
	return msg, raw, nil
}

func (p *patcher) run(cmd string) error {
	switch {
	case cmd == "show":
		msg, raw, err := p.decodeOne()
		if err != nil {
			return err
		}
		fmt.Printf("offset=%d ", p.base)
		if _, err := textio.Fprint(os.Stdout, &msg); err != nil {
			return err
		}
		fmt.Println()
		p.base += int64(len(raw))
		return nil

	case cmd == "next":
		_, raw, err := p.decodeOne()
		if err != nil {
			return err
		}
		p.base += int64(len(raw))
		return nil

	case strings.HasPrefix(cmd, "seek="):
		n, err := strconv.ParseInt(cmd[len("seek="):], 10, 64)
		if err != nil {
			return err
		}
		p.base = n
		return nil

	case strings.HasPrefix(cmd, "icnt="):
		n, err := strconv.ParseUint(cmd[len("icnt="):], 10, 32)
		if err != nil {
			return err
		}
		msg, raw, err := p.decodeOne()
		if err != nil {
			return err
		}
		if !msg.HasICnt() {
			return nexuserr.ErrMsgUnsupported
		}
		msg.ICnt = uint32(n)
		patched := message.Encode(nil, &msg, p.cfg.SrcBits, p.cfg.TsBits, p.cfg.AddrBits, p.cfg.VAO)
		if len(patched) != len(raw) {
			return nexuserr.ErrMsgInvalid
		}
		if _, err := unix.Pwrite(p.fd, patched, p.base); err != nil {
			return err
		}
		p.base += int64(len(raw))
		return nil

	default:
		return fmt.Errorf("nxpatch: unknown command %q", cmd)
	}
}
