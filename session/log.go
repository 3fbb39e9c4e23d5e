package session

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by every session strategy.
func UseLogger(logger btclog.Logger) {
	log = logger
}
