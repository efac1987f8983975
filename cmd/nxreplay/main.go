// Command nxreplay drives the full trace decoder over a message
// stream, printing a "[time] +offset EVENT ..." line per retirement
// event, the same shape original_source/util/replay.c prints. Unknown
// messages (rejected by the trace decoder but still well-formed wire
// messages) are reported separately via the textio mirror rather than
// aborting the replay.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ganboing/nexusrv-go/hwcfg"
	"github.com/ganboing/nexusrv-go/msgio"
	"github.com/ganboing/nexusrv-go/nexuserr"
	"github.com/ganboing/nexusrv-go/textio"
	"github.com/ganboing/nexusrv-go/trace"
)

const defaultBufferSize = 4096

func main() {
	var (
		tsBits  = flag.Uint("t", 0, "bits of TIMESTAMP field")
		srcBits = flag.Uint("s", 0, "bits of SRC field")
		bufsz   = flag.Int("b", defaultBufferSize, "read buffer size")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS...] <trace file> or - for stdin\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		logrus.Fatal("nxreplay: insufficient arguments")
	}

	cfg := hwcfg.Config{TsBits: *tsBits, SrcBits: *srcBits, QuirkVendor: true}

	in, err := openInput(flag.Arg(0))
	if err != nil {
		logrus.WithError(err).Fatal("nxreplay: failed to open input")
	}
	defer in.Close()

	msgDec := msgio.NewDecoder(cfg, in, -1, *bufsz)
	td := trace.NewDecoder(cfg, msgDec, nil)

	replay(td, msgDec, os.Stdout)
}

func replay(td *trace.Decoder, msgDec *msgio.Decoder, out *os.File) {
	var tntTime, lastTime uint64
	events := 0
	for {
		sync, happened, err := td.SyncReset()
		if err != nil {
			logrus.WithError(err).Fatal("nxreplay: sync_reset failed")
		}
		if happened {
			fmt.Fprintf(out, "\n[%d] +%d SYNC %x sync=%d",
				td.Time(), msgDec.Offset(), sync.Addr, sync.Sync)
			checkTime(&lastTime, td)
			events++
			continue
		}

		retired, event, err := td.TryRetire(^uint32(0))
		if err != nil {
			switch {
			case errors.Is(err, nexuserr.ErrTraceEof):
				logrus.WithFields(logrus.Fields{"events": events}).Info("nxreplay: done")
				return
			case errors.Is(err, nexuserr.ErrMsgUnsupported):
				printUnknown(td, msgDec, out)
				checkTime(&lastTime, td)
				continue
			default:
				logrus.WithError(err).Fatal("nxreplay: try_retire failed")
			}
		}
		if retired > 0 {
			tntTime = 0
			fmt.Fprintf(out, "\n[%d] +%d I-CNT %d",
				td.Time(), msgDec.Offset(), retired)
		}

		switch event {
		case trace.EventDirect, trace.EventDirectSync:
			taken, err := td.NextTnt()
			if err != nil {
				logrus.WithError(err).Fatal("nxreplay: next_tnt failed")
			}
			if tntTime != td.Time() {
				fmt.Fprintf(out, "\n[%d] +%d TNT ", td.Time(), msgDec.Offset())
			}
			if taken {
				fmt.Fprint(out, "!")
			} else {
				fmt.Fprint(out, ".")
			}
			tntTime = td.Time()

		case trace.EventTrap, trace.EventIndirect, trace.EventIndirectSync:
			indir, err := td.NextIndirect()
			if err != nil {
				logrus.WithError(err).Fatal("nxreplay: next_indirect failed")
			}
			fmt.Fprintf(out, "\n[%d] +%d INDIRECT %x", td.Time(), msgDec.Offset(), indir.Target)
			if indir.Interrupt {
				fmt.Fprint(out, " interrupt")
			}
			if indir.Exception {
				fmt.Fprint(out, " exception")
			}
			if indir.Ownership {
				fmt.Fprintf(out, " fmt=%d priv=%d v=%d context=%x",
					indir.OwnershipFmt, indir.OwnershipPriv, indir.OwnershipV, indir.Context)
			}

		case trace.EventSync:
			s, err := td.NextSync()
			if err != nil {
				logrus.WithError(err).Fatal("nxreplay: next_sync failed")
			}
			fmt.Fprintf(out, "\n[%d] +%d SYNC %x sync=%d", td.Time(), msgDec.Offset(), s.Addr, s.Sync)

		case trace.EventStop:
			stop, err := td.NextStop()
			if err != nil {
				logrus.WithError(err).Fatal("nxreplay: next_stop failed")
			}
			fmt.Fprintf(out, "\n[%d] +%d STOP evcode=%d", td.Time(), msgDec.Offset(), stop.EVCode)

		case trace.EventError:
			errEvt, err := td.NextError()
			if err != nil {
				logrus.WithError(err).Fatal("nxreplay: next_error failed")
			}
			fmt.Fprintf(out, "\n[%d] +%d ERROR etype=%d ecode=%d",
				td.Time(), msgDec.Offset(), errEvt.EType, errEvt.ECode)
		}

		checkTime(&lastTime, td)
		events++
	}
}

func printUnknown(td *trace.Decoder, msgDec *msgio.Decoder, out *os.File) {
	msg, ok, err := msgDec.Next()
	if err != nil {
		logrus.WithError(err).Fatal("nxreplay: msg decode failed")
	}
	if !ok {
		logrus.Fatal("nxreplay: unknown-message recovery hit EOF")
	}
	fmt.Fprintf(out, "\n[%d] UNKNOWN MSG ", td.Time())
	if _, err := textio.Fprint(out, &msg); err != nil {
		logrus.WithError(err).Fatal("nxreplay: write failed")
	}
}

func checkTime(lastTime *uint64, td *trace.Decoder) {
	now := td.Time()
	if *lastTime != 0 && *lastTime > now {
		logrus.WithFields(logrus.Fields{"last": *lastTime, "now": now}).Warn("nxreplay: time goes backward")
	}
	*lastTime = now
}

func openInput(name string) (*os.File, error) {
	if name == "-" {
		return os.Stdin, nil
	}
	return os.Open(name)
}
