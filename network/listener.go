package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ListenerConfig configures the plain-TCP (or TLS-wrapped, see tls.go)
// socket the broker accepts connections on. Admission policy and
// active-connection bookkeeping are deliberately NOT this type's concern -
// those live in the broker loop that consumes OnConnection. This type only
// owns the raw accept loop, the external collaborator the core spec treats
// as out of scope in its own right.
type ListenerConfig struct {
	Address      string
	TLSConfig    *tls.Config
	TCPKeepAlive time.Duration
}

func DefaultListenerConfig(address string) *ListenerConfig {
	return &ListenerConfig{
		Address:      address,
		TCPKeepAlive: 30 * time.Second,
	}
}

// Listener wraps a net.Listener, dispatching each accepted socket to every
// registered ConnectionHandler in turn. A handler returning an error closes
// the socket immediately without running the remaining handlers - this is
// how the broker's admission policy rejects a connection before a Client or
// SessionConfig is ever allocated for it.
type Listener struct {
	config   *ListenerConfig
	listener net.Listener

	connSeq  atomic.Uint64
	accepted atomic.Uint64

	mu       sync.RWMutex
	handlers []ConnectionHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
}

// ConnectionHandler is invoked once per accepted socket, already wrapped as
// a Connection.
type ConnectionHandler func(*Connection) error

func NewListener(config *ListenerConfig) (*Listener, error) {
	if config == nil || config.Address == "" {
		return nil, ErrInvalidAddress
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Listener{
		config:   config,
		handlers: make([]ConnectionHandler, 0),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (l *Listener) Start() error {
	if l.closed.Load() {
		return ErrListenerClosed
	}

	var err error
	if l.config.TLSConfig != nil {
		l.listener, err = tls.Listen("tcp", l.config.Address, l.config.TLSConfig)
	} else {
		l.listener, err = net.Listen("tcp", l.config.Address)
	}
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	l.wg.Add(1)
	go l.acceptLoop()

	return nil
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		netConn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			continue
		}

		l.wg.Add(1)
		go l.handleConnection(netConn)
	}
}

func (l *Listener) handleConnection(netConn net.Conn) {
	defer l.wg.Done()

	if tcpConn, ok := netConn.(*net.TCPConn); ok && l.config.TCPKeepAlive > 0 {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(l.config.TCPKeepAlive)
	}

	connID := l.generateConnectionID()
	conn := NewConnection(netConn, connID, &ConnectionConfig{
		KeepAlive: l.config.TCPKeepAlive,
	})
	l.accepted.Add(1)

	l.mu.RLock()
	handlers := make([]ConnectionHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(conn); err != nil {
			_ = conn.Close()
			return
		}
	}
}

func (l *Listener) generateConnectionID() string {
	seq := l.connSeq.Add(1)
	return fmt.Sprintf("conn-%d-%d", time.Now().UnixNano(), seq)
}

// OnConnection registers a handler run for every accepted socket, in
// registration order. The broker loop registers exactly one: construct a
// Client, apply admission, and either start serving it or return an error
// to have the Listener close it straight away.
func (l *Listener) OnConnection(handler ConnectionHandler) {
	l.mu.Lock()
	l.handlers = append(l.handlers, handler)
	l.mu.Unlock()
}

func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		if l.listener != nil {
			err = l.listener.Close()
		}
		l.wg.Wait()
	})

	return err
}

func (l *Listener) Addr() net.Addr {
	if l.listener != nil {
		return l.listener.Addr()
	}
	return nil
}

func (l *Listener) Stats() ListenerStats {
	return ListenerStats{Accepted: l.accepted.Load()}
}

type ListenerStats struct {
	Accepted uint64
}
