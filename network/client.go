package network

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/glowmq/broker/codec/mqtt"
	"github.com/glowmq/broker/concurrent"
)

// ClientPhase enumerates the packet-level states a Client moves through
// while reading one packet off the wire. It replaces the original
// connection's single read_fixed_header/read_packet_body async callback
// pair - which read the remaining-length bytes one at a time from inside
// an async continuation that returned before the read actually completed -
// with an explicit state machine driven by a single buffered reader.
type ClientPhase int32

const (
	PhaseWaitingHeader ClientPhase = iota
	PhaseWaitingLengthByte
	PhaseWaitingBody
	PhaseDecoding
	PhaseActing
	PhaseClosed
)

func (p ClientPhase) String() string {
	switch p {
	case PhaseWaitingHeader:
		return "waiting_header"
	case PhaseWaitingLengthByte:
		return "waiting_length_byte"
	case PhaseWaitingBody:
		return "waiting_body"
	case PhaseDecoding:
		return "decoding"
	case PhaseActing:
		return "acting"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MaxPacketSize bounds the remaining-length a Client will accept before
// closing the connection, independent of the wire format's own 256MB
// ceiling. It plays the role of the original PACKET_SIZE_LIMIT constant.
const MaxPacketSize = 1 << 20 // 1 MiB

// PacketHandler processes one fully-decoded packet for a client. Returning
// an error closes the connection; the codec/mqtt PacketError carrying a
// reason code, when present, is what a CONNACK/DISCONNECT would report back
// before closing.
type PacketHandler func(ctx context.Context, c *Client, fh *mqtt.FixedHeader, body []byte) error

// Client wraps a Connection with the per-connection packet-framing state
// machine and keep-alive deadline described for the broker's connection
// lifecycle: only a CONNECT may be the first packet, and once a CONNACK is
// sent the keep-alive timer re-arms at 1.5x the negotiated interval rather
// than a fixed accept timeout.
type Client struct {
	conn   *Connection
	reader *bufio.Reader

	phase ClientPhase

	firstPacketSeen bool
	keepAlive       time.Duration
	keepAliveTimer  *concurrent.Timer

	handler PacketHandler
	logger  *slog.Logger

	onIdleTimeout func(*Client)
}

// ClientConfig configures a Client's first-packet timeout and handler.
type ClientConfig struct {
	// FirstPacketTimeout bounds how long to wait for the first CONNECT
	// packet before closing the connection, mirroring connect_to_client's
	// timer in the original implementation.
	FirstPacketTimeout time.Duration
	Handler       PacketHandler
	Logger        *slog.Logger
	OnIdleTimeout func(*Client)
}

// NewClient wraps conn in a Client and arms the first-packet timeout.
func NewClient(conn *Connection, cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		conn:          conn,
		reader:        bufio.NewReaderSize(conn, 4096),
		phase:         PhaseWaitingHeader,
		handler:       cfg.Handler,
		logger:        cfg.Logger,
		onIdleTimeout: cfg.OnIdleTimeout,
	}

	if cfg.FirstPacketTimeout > 0 {
		c.keepAliveTimer = concurrent.NewTimer(cfg.FirstPacketTimeout, c.onTimeout)
	}

	return c
}

// ID returns the underlying connection's identifier.
func (c *Client) ID() string { return c.conn.ID() }

// Conn returns the underlying transport Connection.
func (c *Client) Conn() *Connection { return c.conn }

func (c *Client) onTimeout() {
	c.logger.Debug("client timed out waiting for traffic", "client", c.ID(), "phase", c.phase.String())
	if c.onIdleTimeout != nil {
		c.onIdleTimeout(c)
	}
	_ = c.Close()
}

// ArmKeepAlive re-arms the idle timer at 1.5x the negotiated keep-alive
// interval, per MQTT 5.0's server-side keep-alive grace period. Call once
// after sending CONNACK, and again every time a packet is received.
func (c *Client) ArmKeepAlive(keepAlive time.Duration) {
	c.keepAlive = keepAlive
	if keepAlive <= 0 {
		if c.keepAliveTimer != nil {
			c.keepAliveTimer.Stop()
		}
		return
	}

	deadline := time.Duration(float64(keepAlive) * 1.5)
	if c.keepAliveTimer == nil {
		c.keepAliveTimer = concurrent.NewTimer(deadline, c.onTimeout)
		return
	}
	c.keepAliveTimer.Reset(deadline)
}

// Close stops the keep-alive timer and closes the underlying connection.
func (c *Client) Close() error {
	c.phase = PhaseClosed
	if c.keepAliveTimer != nil {
		c.keepAliveTimer.Stop()
	}
	return c.conn.Close()
}

// Serve drives the read loop until the connection closes or ctx is
// cancelled. Each iteration walks PhaseWaitingHeader -> WaitingLengthByte ->
// WaitingBody -> Decoding -> Acting, then loops back to WaitingHeader.
func (c *Client) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fh, body, err := c.readPacket()
		if err != nil {
			return err
		}

		if c.keepAlive > 0 {
			c.ArmKeepAlive(c.keepAlive)
		} else if c.keepAliveTimer != nil {
			c.keepAliveTimer.Stop()
		}

		if !c.firstPacketSeen {
			c.firstPacketSeen = true
			if fh.Type != mqtt.CONNECT {
				return mqtt.NewProtocolError(errors.New("first packet must be CONNECT"), "")
			}
		}

		c.phase = PhaseActing
		if c.handler != nil {
			if err := c.handler(ctx, c, fh, body); err != nil {
				return err
			}
		}
		c.phase = PhaseWaitingHeader
	}
}

// readPacket reads one fixed header plus body off the wire, buffering the
// variable-length-encoded remaining-length bytes into memory before
// decoding them - fixing the original async connection's bug of launching
// an async read for each remaining-length byte and consuming its
// not-yet-populated result immediately.
func (c *Client) readPacket() (*mqtt.FixedHeader, []byte, error) {
	c.phase = PhaseWaitingHeader
	firstByte, err := c.reader.ReadByte()
	if err != nil {
		return nil, nil, err
	}

	c.phase = PhaseWaitingLengthByte
	var lenBuf [4]byte
	n := 0
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return nil, nil, err
		}
		lenBuf[n] = b
		n++
		if b&0x80 == 0 {
			break
		}
		if n == 4 {
			return nil, nil, mqtt.NewMalformedPacketError(mqtt.ErrMalformedVariableByteInteger, "remaining length exceeds 4 bytes")
		}
	}

	remainingLength, _, err := mqtt.DecodeVariableByteIntegerFromBytes(lenBuf[:n])
	if err != nil {
		return nil, nil, err
	}
	if remainingLength > MaxPacketSize {
		return nil, nil, mqtt.NewProtocolError(mqtt.ErrInvalidRemainingLength, "packet exceeds configured size limit")
	}

	headerBytes := append([]byte{firstByte}, lenBuf[:n]...)
	fh, _, err := mqtt.ParseFixedHeaderFromBytes(headerBytes)
	if err != nil {
		return nil, nil, err
	}

	c.phase = PhaseWaitingBody
	body := make([]byte, int(remainingLength))
	if remainingLength > 0 {
		if _, err := io.ReadFull(c.reader, body); err != nil {
			return nil, nil, err
		}
	}

	c.phase = PhaseDecoding
	return fh, body, nil
}
