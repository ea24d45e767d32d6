// Package logging initializes the root logger.
package logging

import (
	"log"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

const verboseEnv = "BXES_VERBOSE"

var root logr.Logger

// Log returns the root logger.
func Log() logr.Logger { return root }

func init() {
	root = stdr.New(log.New(os.Stderr, "bxes ", log.Ltime))
	if n, err := strconv.Atoi(os.Getenv(verboseEnv)); err == nil {
		stdr.SetVerbosity(n)
	}
}

// Init sets the verbosity of the root logger. Zero keeps the environment
// setting.
func Init(verbosity int) {
	if verbosity != 0 {
		stdr.SetVerbosity(verbosity)
	}
}

// Discard returns a logger that drops everything.
func Discard() logr.Logger { return logr.Discard() }
