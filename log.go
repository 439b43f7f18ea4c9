package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// setupLog configures the default logger: compact, leveled, colored
// only when stderr is a terminal.
func setupLog() {
	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(true)

	if viper.GetBool("debug") || os.Getenv("LILYWEB_DEBUG") == "1" {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if !term.IsTerminal(int(os.Stderr.Fd())) {
		log.SetColorProfile(termenv.Ascii)
	}
}
