package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/lfmartins/telesync/internal/daemon"
	"github.com/lfmartins/telesync/internal/session"
)

func main() {
	dirFlag := flag.String("dir", "", "state directory (default ~/.telesync, or $TELESYNC_DIR)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	dir := *dirFlag
	if dir == "" {
		dir = session.BaseDir()
	}

	app := fx.New(
		daemon.Module(daemon.Params{Dir: dir, Verbose: *verbose}),
	)

	app.Run()
}
