package p2p

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger for the top-level orchestrator.
func UseLogger(logger btclog.Logger) {
	log = logger
}
