// Package broker implements the accept loop and connection lifecycle that
// sits above network.Listener and network.Client: it applies an admission
// policy to each accepted socket, tracks accepted clients in an active-
// session registry, and tears down closed clients off a dedicated
// goroutine so a slow teardown never blocks the accept loop. A rejected
// socket never becomes a client: the Listener closes it as soon as admit
// returns an error.
//
// Grounded on original_source/include/lmqtt_server.h's lmqtt_server, which
// keeps an _activeSessions ts_queue and a _deletionQueue ts_queue and
// drains the latter from update() rather than from the accept callback
// itself; here that drain loop runs continuously on its own goroutine
// instead of being pumped by an external caller.
package broker

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/glowmq/broker/codec/mqtt"
	"github.com/glowmq/broker/concurrent"
	"github.com/glowmq/broker/network"
	"github.com/glowmq/broker/session"
)

// Config controls admission policy and per-client defaults. MaxConnections
// mirrors lmqtt_server::on_client_connection's hardcoded "> 5" check,
// generalized into a configurable value.
type Config struct {
	ListenAddress      string
	MaxConnections     int
	FirstPacketTimeout time.Duration
	Capabilities       session.ServerCapabilities
	Logger             *slog.Logger
}

func DefaultConfig(address string) *Config {
	return &Config{
		ListenAddress:      address,
		MaxConnections:     1024,
		FirstPacketTimeout: 20 * time.Second,
		Capabilities: session.ServerCapabilities{
			MaximumQoS:                     mqtt.QoS2,
			RetainAvailable:                true,
			WildcardSubscriptionAvailable:  true,
			SubscriptionIDAvailable:        true,
			SharedSubscriptionAvailable:    true,
			MaximumPacketSize:              1 << 20,
		},
	}
}

// Broker owns the Listener, the active-session registry, and the deletion
// queue, and wires an admission policy between accept and registration.
type Broker struct {
	config   *Config
	listener *network.Listener
	logger   *slog.Logger

	active  *concurrent.Queue[*network.Client]
	deleted *concurrent.Queue[*network.Client]

	metrics metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type metrics struct {
	accepted  prometheus.Counter
	rejected  prometheus.Counter
	active    prometheus.Gauge
	perPacket *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) metrics {
	m := metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "glowmq",
			Subsystem: "broker",
			Name:      "connections_accepted_total",
			Help:      "Total connections admitted past the admission policy.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "glowmq",
			Subsystem: "broker",
			Name:      "connections_rejected_total",
			Help:      "Total connections refused by the admission policy.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "glowmq",
			Subsystem: "broker",
			Name:      "active_sessions",
			Help:      "Number of clients currently in the active-session registry.",
		}),
		perPacket: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "glowmq",
			Subsystem: "broker",
			Name:      "packets_total",
			Help:      "Packets processed, by MQTT packet type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.accepted, m.rejected, m.active, m.perPacket)
	}
	return m
}

// New constructs a Broker bound to cfg. The underlying Listener is not
// started until Start is called.
func New(cfg *Config, reg prometheus.Registerer) (*Broker, error) {
	if cfg == nil {
		return nil, errors.New("broker: nil config")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	listener, err := network.NewListener(network.DefaultListenerConfig(cfg.ListenAddress))
	if err != nil {
		return nil, errors.Wrap(err, "broker: creating listener")
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Broker{
		config:   cfg,
		listener: listener,
		logger:   cfg.Logger,
		active:   concurrent.NewQueue[*network.Client](),
		deleted:  concurrent.NewQueue[*network.Client](),
		metrics:  newMetrics(reg),
		ctx:      ctx,
		cancel:   cancel,
	}

	listener.OnConnection(b.admit)
	return b, nil
}

// admit is the Listener's single ConnectionHandler: it applies the
// admission policy, and on acceptance wraps the Connection in a Client and
// pushes it onto the active-session registry. Returning an error here has
// the Listener close the raw socket immediately, matching
// lmqtt_server::wait_for_clients pushing a denied connection straight to
// the deletion queue instead of the active set.
func (b *Broker) admit(conn *network.Connection) error {
	if b.active.Len() >= b.config.MaxConnections {
		b.metrics.rejected.Inc()
		b.logger.Warn("connection rejected, at capacity", "client", conn.ID(), "max", b.config.MaxConnections)
		return errors.New("broker: connection limit reached")
	}

	client := network.NewClient(conn, network.ClientConfig{
		FirstPacketTimeout: b.config.FirstPacketTimeout,
		Handler:            b.handlePacket,
		Logger:             b.logger,
		OnIdleTimeout:      b.scheduleDeletion,
	})

	b.metrics.accepted.Inc()
	b.active.PushBack(client)
	b.metrics.active.Set(float64(b.active.Len()))
	b.logger.Info("connection accepted", "client", client.ID())

	b.wg.Add(1)
	go b.serve(client)

	return nil
}

func (b *Broker) serve(client *network.Client) {
	defer b.wg.Done()
	if err := client.Serve(b.ctx); err != nil {
		b.logger.Debug("client disconnected", "client", client.ID(), "reason", err)
	}
	b.scheduleDeletion(client)
}

// scheduleDeletion pushes client onto the deletion queue rather than
// closing and removing it inline, so teardown never runs on the goroutine
// that is mid-read for some other client.
func (b *Broker) scheduleDeletion(client *network.Client) {
	b.deleted.PushBack(client)
}

// handlePacket is the Client.PacketHandler every admitted connection
// shares. It does not implement session/topic semantics (those are out of
// this package's scope per spec.md): PUBLISH is decoded and logged but
// never routed to a subscriber, and DISCONNECT's reason code is logged
// before the connection is torn down. CONNECT is the one packet type that
// gets a reply, since it is the only packet this core encodes.
func (b *Broker) handlePacket(ctx context.Context, c *network.Client, fh *mqtt.FixedHeader, body []byte) error {
	b.metrics.perPacket.WithLabelValues(fh.Type.String()).Inc()

	switch fh.Type {
	case mqtt.CONNECT:
		return b.handleConnect(c, fh, body)
	case mqtt.PUBLISH:
		return b.handlePublish(c, fh, body)
	case mqtt.DISCONNECT:
		return b.handleDisconnect(c, fh, body)
	default:
		return nil
	}
}

func (b *Broker) handleConnect(c *network.Client, fh *mqtt.FixedHeader, body []byte) error {
	connect, err := mqtt.ParseConnectPacket(bytes.NewReader(body), fh)
	if err != nil {
		reason := mqtt.GetReasonCode(err)
		_, _ = c.Conn().Write(session.ShortFormConnack(reason))
		return errors.Wrap(err, "broker: parsing CONNECT")
	}

	cfg, err := session.FromConnectPacket(connect)
	if err != nil {
		reason := mqtt.GetReasonCode(err)
		_, _ = c.Conn().Write(session.ShortFormConnack(reason))
		return errors.Wrap(err, "broker: applying CONNECT properties")
	}

	ack := session.BuildConnack(cfg, b.config.Capabilities, false)
	encoded, err := session.EncodeConnack(ack)
	if err != nil {
		return errors.Wrap(err, "broker: encoding CONNACK")
	}
	if _, err := c.Conn().Write(encoded); err != nil {
		return errors.Wrap(err, "broker: writing CONNACK")
	}

	keepAlive := time.Duration(cfg.KeepAlive) * time.Second
	c.ArmKeepAlive(keepAlive)
	return nil
}

// handlePublish decodes an inbound PUBLISH so its topic/payload reach the
// logs; there is no subscriber registry in this core to route it to
// (topic matching and delivery are out of spec.md's scope).
func (b *Broker) handlePublish(c *network.Client, fh *mqtt.FixedHeader, body []byte) error {
	publish, err := mqtt.ParsePublishPacket(bytes.NewReader(body), fh)
	if err != nil {
		return errors.Wrap(err, "broker: parsing PUBLISH")
	}
	b.logger.Debug("publish received",
		"client", c.ID(), "topic", publish.TopicName, "qos", fh.QoS, "payload_len", len(publish.Payload))
	return nil
}

// handleDisconnect decodes the client's DISCONNECT reason code and tears
// the connection down; MQTT 5.0 treats DISCONNECT as the client ending the
// network connection itself, so no reply is sent.
func (b *Broker) handleDisconnect(c *network.Client, fh *mqtt.FixedHeader, body []byte) error {
	disconnect, err := mqtt.ParseDisconnectPacket(bytes.NewReader(body), fh)
	if err != nil {
		return errors.Wrap(err, "broker: parsing DISCONNECT")
	}
	b.logger.Debug("client disconnected", "client", c.ID(), "reason", disconnect.ReasonCode)
	return errors.Wrap(network.ErrConnectionClosed, "broker: client sent DISCONNECT")
}

// Start begins accepting connections and launches the deletion-queue drain
// goroutine.
func (b *Broker) Start() error {
	if err := b.listener.Start(); err != nil {
		return errors.Wrap(err, "broker: starting listener")
	}
	b.wg.Add(1)
	go b.drainDeleted()
	return nil
}

// drainDeleted mirrors lmqtt_server::update: wait for an item, shut it
// down, and erase it from the active registry - but as a standing loop
// instead of a method an external caller has to pump, since this broker
// has no equivalent of the original's single-threaded update() call site.
func (b *Broker) drainDeleted() {
	defer b.wg.Done()
	for {
		client, ok := b.deleted.Wait()
		if !ok {
			return
		}
		_ = client.Close()
		b.active.FindAndErase(func(c *network.Client) bool { return c.ID() == client.ID() })
		b.metrics.active.Set(float64(b.active.Len()))
	}
}

// Stop closes the listener, cancels every in-flight Serve loop, drains the
// deletion queue one final time, and waits for all goroutines to exit.
func (b *Broker) Stop() error {
	err := b.listener.Close()
	b.cancel()
	b.deleted.Close()
	b.wg.Wait()
	return err
}

// Addr returns the listener's bound address, or nil before Start.
func (b *Broker) Addr() net.Addr {
	return b.listener.Addr()
}

// ActiveSessions reports the number of clients currently registered.
func (b *Broker) ActiveSessions() int {
	return b.active.Len()
}
