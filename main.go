/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/testbed"
)

func main() {
	defer core.HandleFatal()

	configPath := flag.String("config", "", "path of the TOML configuration file")
	flag.Parse()

	tb := testbed.NewTestGame(*configPath)

	e, err := engine.New(tb.Game)
	core.FatalIf(err, "failed to create the engine")

	if err := e.Initialize(); err != nil {
		core.LogError("failed to initialize the engine: %s", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// the render loop owns the device, so only ask it to stop
	go func() {
		<-sigCh
		e.Stop()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	core.FatalIf(runErr, "engine stopped with an error")
}
