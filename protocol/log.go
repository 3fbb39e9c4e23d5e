package protocol

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by every protocol state
// machine in this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
