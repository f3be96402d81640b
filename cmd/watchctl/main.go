// Command watchctl is an example and debugging front-end for the
// watcher library. It watches one root and prints the event stream,
// optionally as the library's JSON log line instead of the plain
// String() form.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/e-dant/watcher-go"
)

var (
	asJSON    = pflag.BoolP("json", "j", false, "print each event as the library's JSON log line")
	forceScan = pflag.BoolP("scan", "s", false, "force the portable scan fallback instead of the native adapter")
)

func exit(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, filepath.Base(os.Args[0])+": "+format+"\n", a...)
	os.Exit(1)
}

// printTime mirrors the teacher's own printTime helper: a timestamp
// prefix shorter than the stdlib logger's: wall-clock time of day with
// four fractional digits (tenths of a millisecond).
func printTime(s string, a ...interface{}) {
	fmt.Printf(time.Now().Format("15:04:05.0000")+" "+s+"\n", a...)
}

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <root>\n\n", filepath.Base(os.Args[0]))
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(1)
	}
	root := pflag.Arg(0)

	var opts []watcher.Option
	if *forceScan {
		opts = append(opts, watcher.WithForceScan())
	}

	w, err := watcher.Open(root, func(e watcher.Event) {
		if *asJSON {
			fmt.Println(e.JSON())
			return
		}
		printTime("%s", e)
	}, opts...)
	if err != nil {
		exit("open %q: %s", root, err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc

	w.Close()
}
