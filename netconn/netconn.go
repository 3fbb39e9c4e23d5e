// Package netconn implements Acceptor and Connector: factories that turn
// listen/connect primitives into Channels with timeouts, grounded on
// server.go's listener goroutine (Acceptor) and handleConnectPeer
// (Connector), generalized into cancellable, handler-based APIs. Backoff
// uses the same exponential-with-cap shape as btcsuite/btcd/connmgr's
// retry logic; Connect describes each dial with a
// btcsuite/btcd/connmgr.ConnReq, the same dependency peer.go already
// pulls in.
package netconn

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/connmgr"
	"github.com/btcp2p/btcp2p/authority"
	"github.com/btcp2p/btcp2p/channel"
	"github.com/btcp2p/btcp2p/p2perr"
)

// AcceptHandler is invoked for each accepted connection, or once with
// ServiceStopped after the acceptor is stopped.
type AcceptHandler func(code p2perr.Code, ch *channel.Channel)

// ConnectHandler is invoked once per Connect call with the outcome.
type ConnectHandler func(code p2perr.Code, ch *channel.Channel)

// Acceptor binds a listener and produces a Channel per accepted socket.
type Acceptor struct {
	cfg      channel.Config
	nonceGen func() uint64

	mu       sync.Mutex
	listener net.Listener

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

// NewAcceptor returns an Acceptor that builds Channels with cfg, assigning
// nonces via nonceGen.
func NewAcceptor(cfg channel.Config, nonceGen func() uint64) *Acceptor {
	return &Acceptor{
		cfg:      cfg,
		nonceGen: nonceGen,
		quit:     make(chan struct{}),
	}
}

// Listen binds a TCP listener on bindAddr:port.
func (a *Acceptor) Listen(bindAddr string, port uint16) error {
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(int(port)))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		code := p2perr.AcceptFailed
		if isAddrInUse(err) {
			code = p2perr.AddressInUse
		}
		return p2perr.New(code, err)
	}
	a.mu.Lock()
	a.listener = l
	a.mu.Unlock()
	return nil
}

// Addr returns the bound listener's address, or nil before Listen
// succeeds. Useful when Listen was given port 0 and the caller needs to
// learn which port the OS chose.
func (a *Acceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Accept starts the accept loop in the background, invoking handler per
// accepted connection.
func (a *Acceptor) Accept(handler AcceptHandler) {
	a.wg.Add(1)
	go a.acceptLoop(handler)
}

func (a *Acceptor) acceptLoop(handler AcceptHandler) {
	defer a.wg.Done()

	a.mu.Lock()
	l := a.listener
	a.mu.Unlock()
	if l == nil {
		handler(p2perr.OperationFailed, nil)
		return
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-a.quit:
				handler(p2perr.ServiceStopped, nil)
				return
			default:
			}
			log.Errorf("accept failed: %v", err)
			handler(p2perr.AcceptFailed, nil)
			continue
		}

		remote, ok := conn.RemoteAddr().(*net.TCPAddr)
		if !ok {
			conn.Close()
			continue
		}
		auth := authority.FromIP(remote.IP, uint16(remote.Port))
		ch := channel.New(a.cfg, conn, auth, a.nonceGen())
		handler(p2perr.Success, ch)
	}
}

// Stop closes the listener and waits for the accept loop to exit;
// subsequent handler invocations (if any in flight) observe
// ServiceStopped.
func (a *Acceptor) Stop() {
	a.quitOnce.Do(func() {
		close(a.quit)
		a.mu.Lock()
		if a.listener != nil {
			a.listener.Close()
		}
		a.mu.Unlock()
	})
	a.wg.Wait()
}

// Connector dials outbound connections with a timeout.
type Connector struct {
	cfg            channel.Config
	connectTimeout time.Duration
	nonceGen       func() uint64

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

// NewConnector returns a Connector that dials with connectTimeout and
// builds Channels with cfg.
func NewConnector(cfg channel.Config, connectTimeout time.Duration, nonceGen func() uint64) *Connector {
	return &Connector{
		cfg:            cfg,
		connectTimeout: connectTimeout,
		nonceGen:       nonceGen,
		quit:           make(chan struct{}),
	}
}

// Connect resolves and dials addr, invoking handler with the resulting
// Channel or a failure code. Returns a connmgr.ConnReq describing the dial
// (PendingSockets itself is keyed by Authority).
func (c *Connector) Connect(addr authority.Authority, handler ConnectHandler) *connmgr.ConnReq {
	req := &connmgr.ConnReq{
		Addr: &net.TCPAddr{IP: addr.IP(), Port: int(addr.Port())},
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		select {
		case <-c.quit:
			handler(p2perr.ServiceStopped, nil)
			return
		default:
		}

		dialer := net.Dialer{Timeout: c.connectTimeout}
		conn, err := dialer.Dial("tcp", req.Addr.String())
		if err != nil {
			select {
			case <-c.quit:
				handler(p2perr.ServiceStopped, nil)
			default:
				log.Debugf("connect to %s failed: %v", addr, err)
				handler(classifyDialErr(err), nil)
			}
			return
		}

		ch := channel.New(c.cfg, conn, addr, c.nonceGen())
		handler(p2perr.Success, ch)
	}()

	return req
}

// Stop cancels all in-flight and future connects.
func (c *Connector) Stop() {
	c.quitOnce.Do(func() {
		close(c.quit)
	})
	c.wg.Wait()
}

func classifyDialErr(err error) p2perr.Code {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return p2perr.ChannelTimeout
	}
	if _, ok := err.(*net.DNSError); ok {
		return p2perr.ResolveFailed
	}
	if isAddrInUse(err) {
		return p2perr.AddressInUse
	}
	return p2perr.NetworkUnreachable
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// Backoff computes an exponential backoff duration for the given retry
// count, capped at max. Mirrors the shape of btcsuite/btcd/connmgr's
// internal retry-growth curve (2^attempt seconds, capped); connmgr does
// not export its backoff helper, so it is reimplemented here rather than
// imported (see DESIGN.md).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}
