// Package run loads the config and runs the whole forwarding pipeline
package run

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/relex/gotils/logger"

	"github.com/relex/loghose/defs"
)

// Run runs the forwarder until stopped by signals
func Run(configFile string) {
	loader, loaderErr := NewLoaderFromConfigFile(configFile, "loghose_")
	if loaderErr != nil {
		logger.Fatal(loaderErr)
	}

	loader.Launch()

	runLogger := logger.WithField(defs.LabelComponent, "Launcher")

	// wait for shutdown signal
	{
		sigChan := make(chan os.Signal, 10)
		signal.Notify(sigChan, syscall.SIGINT)
		signal.Notify(sigChan, syscall.SIGTERM)
		s := <-sigChan
		runLogger.Infof("received %s, shutting down", s)
	}

	loader.Shutdown()
	runLogger.Info("clean exit")
}
