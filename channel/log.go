package channel

import "github.com/btcsuite/btclog"

// log is the subsystem logger for this package, following the btcsuite/
// lnd family convention: disabled until a caller wires a real backend via
// UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by Channel.
func UseLogger(logger btclog.Logger) {
	log = logger
}
