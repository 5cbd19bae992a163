// Package logging sets up the process-wide geth-style structured
// logger shared by cmd/orderbook and cmd/driver, the way the teacher
// centralizes its own --log.file / --verbosity wiring ahead of
// log.SetDefault rather than repeating it per binary.
package logging

import (
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup installs the default logger at the given legacy verbosity
// level name (crit/error/warn/info/debug/trace). When logFile is
// non-empty, output is written there with size-based rotation instead
// of to stderr, mirroring a production deployment's log-shipping setup
// without needing an external log-rotation daemon.
func Setup(level, logFile string) {
	var glog *log.GlogHandler
	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		glog = log.NewGlogHandler(log.JSONHandler(rotator))
	} else {
		glog = log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, true))
	}
	glog.Verbosity(log.FromLegacyLevel(legacyVerbosity(level)))
	log.SetDefault(log.NewLogger(glog))
}

// legacyVerbosity maps a configured log_level name onto go-ethereum's
// 0-5 legacy verbosity scale, the same scale cmd/geth's --verbosity
// flag uses ahead of log.FromLegacyLevel.
func legacyVerbosity(s string) int {
	switch s {
	case "crit":
		return 0
	case "error":
		return 1
	case "warn":
		return 2
	case "debug":
		return 4
	case "trace":
		return 5
	default:
		return 3 // info
	}
}
