package netconn

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by Acceptor and Connector.
func UseLogger(logger btclog.Logger) {
	log = logger
}
