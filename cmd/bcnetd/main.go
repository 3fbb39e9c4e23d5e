// Command bcnetd is a thin example binary wiring p2p.P2P to CLI flags; it
// reads no config file. It is not the product: real embedders call p2p.New
// directly and own their own flag parsing, persistence, and signal
// handling.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"

	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/netconn"
	"github.com/btcp2p/btcp2p/p2p"
	"github.com/btcp2p/btcp2p/p2perr"
	"github.com/btcp2p/btcp2p/protocol"
	"github.com/btcp2p/btcp2p/session"
)

// options is the flat CLI surface, parsed by go-flags; it is reduced into
// a p2p.Config by toConfig.
type options struct {
	BindAddr    string   `long:"bindaddr" description:"address to bind the inbound listener to" default:"0.0.0.0"`
	Port        uint16   `long:"port" description:"inbound listen port" default:"8333"`
	Seeds       []string `long:"seed" description:"DNS/IP seed endpoint; repeatable"`
	Peers       []string `long:"peer" description:"address of a peer to always stay connected to; repeatable"`
	Blacklist   []string `long:"blacklist" description:"address to never dial or accept; repeatable"`
	HostsFile   string   `long:"hostsfile" description:"path to the persisted known-hosts file" default:"hosts.json"`
	MaxInbound  int      `long:"maxinbound" description:"maximum inbound connections" default:"50"`
	MaxOutbound int      `long:"maxoutbound" description:"maximum outbound connections" default:"8"`
	UserAgent   string   `long:"useragent" description:"user agent string advertised in version messages" default:"/bcnetd:0.1.0/"`
	Debug       bool     `long:"debug" description:"enable debug-level logging"`
}

func (o *options) toConfig() (p2p.Config, error) {
	cfg := p2p.Config{
		Threads: 8,

		Identifier: uint32(wire.MainNet),
		MaxPayload: 4 << 20,

		BindAddr:            o.BindAddr,
		InboundPort:         o.Port,
		InboundConnections:  o.MaxInbound,
		OutboundConnections: o.MaxOutbound,
		ConnectBatchSize:    4,
		ConnectTimeout:      10 * time.Second,

		ChannelHandshake:   30 * time.Second,
		ChannelGermination: 10 * time.Second,
		ChannelHeartbeat:   2 * time.Minute,
		ChannelInactivity:  5 * time.Minute,
		ChannelExpiration:  0,
		ChannelPoll:        5 * time.Minute,

		HostPoolCapacity: 2000,
		HostsFile:        o.HostsFile,

		ProtocolMinimum: 70001,
		ProtocolMaximum: uint32(wire.ProtocolVersion),
		Services:        wire.SFNodeNetwork,
		Relay:           true,
		UserAgent:       o.UserAgent,
		HeightFn:        func() int32 { return 0 },
	}

	for _, s := range o.Seeds {
		a, err := authority.Parse(s)
		if err != nil {
			return p2p.Config{}, fmt.Errorf("bad --seed %q: %w", s, err)
		}
		cfg.Seeds = append(cfg.Seeds, a)
	}
	for _, s := range o.Peers {
		a, err := authority.Parse(s)
		if err != nil {
			return p2p.Config{}, fmt.Errorf("bad --peer %q: %w", s, err)
		}
		cfg.Peers = append(cfg.Peers, a)
	}
	for _, s := range o.Blacklist {
		a, err := authority.Parse(s)
		if err != nil {
			return p2p.Config{}, fmt.Errorf("bad --blacklist %q: %w", s, err)
		}
		cfg.Blacklist = append(cfg.Blacklist, a.String())
	}

	return cfg, nil
}

func setupLogging(debug bool) {
	backend := btclog.NewBackend(os.Stdout)
	level := btclog.LevelInfo
	if debug {
		level = btclog.LevelDebug
	}

	newLogger := func(subsystem string) btclog.Logger {
		l := backend.Logger(subsystem)
		l.SetLevel(level)
		return l
	}

	channel.UseLogger(newLogger("CHAN"))
	netconn.UseLogger(newLogger("CONN"))
	protocol.UseLogger(newLogger("PROT"))
	session.UseLogger(newLogger("SESS"))
	p2p.UseLogger(newLogger("P2P "))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	setupLogging(opts.Debug)

	cfg, err := opts.toConfig()
	if err != nil {
		return err
	}

	engine := p2p.New(cfg)

	started := make(chan p2perr.Code, 1)
	engine.Start(func(code p2perr.Code) {
		started <- code
	})
	if code := <-started; code != p2perr.Success {
		return fmt.Errorf("startup failed: %v", code)
	}

	hostCount := engine.Hosts().Capacity()
	fmt.Fprintf(os.Stdout, "bcnetd listening on %s:%d (host pool capacity %d)\n",
		cfg.BindAddr, cfg.InboundPort, hostCount)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Fprintln(os.Stdout, "shutting down...")
	engine.Stop()
	return nil
}
