package engine

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/connstate"
	"github.com/bitchat-mesh/bitchat/delivery"
	"github.com/bitchat-mesh/bitchat/fragment"
	"github.com/bitchat-mesh/bitchat/identity"
	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/bitchat-mesh/bitchat/noiseproto"
	"github.com/bitchat-mesh/bitchat/session"
	"github.com/bitchat-mesh/bitchat/store"
	"github.com/bitchat-mesh/bitchat/transport"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultTTL is the hop-count bound stamped on packets this node
// originates.
const DefaultTTL = ids.TTL(7)

// Config bounds the engine's channels, rate limits, and wire defaults.
type Config struct {
	CommandQueueCapacity   int
	EventQueueCapacity     int
	AppEventQueueCapacity  int
	EffectSubscriberBuffer int

	InboundMessagesPerSecond    rate.Limit
	InboundMessageBurst         int
	ConnectionAttemptsPerMinute rate.Limit
	ConnectionAttemptBurst      int

	MaintenanceInterval time.Duration
	ReassemblyTimeout   time.Duration
	DefaultTTL          ids.TTL
	Nickname            string
	RoutingPolicy       transport.Policy
	Store               store.Config
}

// DefaultConfig matches the teacher's habit of shipping sane defaults
// alongside a configurable struct (device/constants.go).
func DefaultConfig() Config {
	return Config{
		CommandQueueCapacity:        256,
		EventQueueCapacity:          512,
		AppEventQueueCapacity:       256,
		EffectSubscriberBuffer:      64,
		InboundMessagesPerSecond:    20,
		InboundMessageBurst:         40,
		ConnectionAttemptsPerMinute: rate.Limit(5.0 / 60.0),
		ConnectionAttemptBurst:      5,
		MaintenanceInterval:         30 * time.Second,
		ReassemblyTimeout:           fragment.DefaultReassemblyTimeout,
		DefaultTTL:                  DefaultTTL,
		RoutingPolicy:               transport.PreferPrimary,
		Store:                       store.DefaultConfig(),
	}
}

// Engine owns every other component and is the sole serializer of state
// transitions, per spec.md §4.11/§5. It composes session.Manager (Noise
// sessions, keyed by Fingerprint), store.Store (the message log),
// delivery.Tracker (outbound delivery status), identity.Manager (the
// persisted identity cache), a per-peer connstate.State map, a
// fragment.Reassembler, and a transport.Router — wiring them together
// exactly as the teacher's device.Device wires together its peer map,
// cookie checker, and rate limiter under one struct (device/device.go).
type Engine struct {
	cfg Config
	clk clock.Clock
	log zerolog.Logger

	localPeerID      ids.PeerID
	staticKey        noiseproto.Keypair
	signingPublicKey [32]byte
	hasSigningKey    bool

	sessions    *session.Manager
	msgStore    *store.Store
	deliveries  *delivery.Tracker
	identities  *identity.Manager
	router      *transport.Router
	reassembler *fragment.Reassembler

	connsMu sync.Mutex
	conns   map[ids.PeerID]connstate.State

	peersMu          sync.Mutex
	fingerprintOfPeer map[ids.PeerID]ids.Fingerprint
	peerOfFingerprint map[ids.Fingerprint]ids.PeerID

	seqMu sync.Mutex
	seq   uint64

	commands        *commandQueue
	events          chan Event
	appEvents       chan AppEvent
	effects         *effectBus
	inboundLimiters *limiterSet
	commandLimiters *limiterSet

	cancel context.CancelFunc
	stopped chan struct{}
}

// New constructs an Engine. storage backs the identity cache; clk and
// log are injected per spec.md §9 ("deliberately injected... no
// ambient process-level state is read").
func New(cfg Config, staticKey noiseproto.Keypair, signingPublicKey [32]byte, hasSigningKey bool, storage identity.Storage, clk clock.Clock, log zerolog.Logger) (*Engine, error) {
	identities, err := identity.NewManager(storage, clk, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:               cfg,
		clk:               clk,
		log:               log.With().Str("component", "engine").Logger(),
		localPeerID:       ids.PeerIDFromStaticKey(staticKey.Public[:]),
		staticKey:         staticKey,
		signingPublicKey:  signingPublicKey,
		hasSigningKey:     hasSigningKey,
		sessions:          session.NewManager(staticKey, clk, log),
		msgStore:          store.New(cfg.Store),
		deliveries:        delivery.New(clk),
		identities:        identities,
		router:            transport.NewRouter(cfg.RoutingPolicy, clk),
		reassembler:       fragment.NewReassembler(clk, cfg.ReassemblyTimeout),
		conns:             make(map[ids.PeerID]connstate.State),
		fingerprintOfPeer: make(map[ids.PeerID]ids.Fingerprint),
		peerOfFingerprint: make(map[ids.Fingerprint]ids.PeerID),
		commands:          newCommandQueue(cfg.CommandQueueCapacity),
		events:            make(chan Event, cfg.EventQueueCapacity),
		appEvents:         make(chan AppEvent, cfg.AppEventQueueCapacity),
		effects:           newEffectBus(),
		inboundLimiters:   newLimiterSet(cfg.InboundMessagesPerSecond, cfg.InboundMessageBurst),
		commandLimiters:   newLimiterSet(cfg.ConnectionAttemptsPerMinute, cfg.ConnectionAttemptBurst),
		stopped:           make(chan struct{}),
	}
	return e, nil
}

// RegisterTransport attaches a concrete transport.Transport to the
// router, per spec.md §4.8.
func (e *Engine) RegisterTransport(t transport.Transport) {
	e.router.Register(t)
}

// LocalPeerID is this node's own short-form identifier.
func (e *Engine) LocalPeerID() ids.PeerID { return e.localPeerID }

// SubmitCommand enqueues cmd on the bounded Command channel, per
// spec.md §4.11. It returns a KindChannel error if the queue is
// saturated with nothing but queries, or closed.
func (e *Engine) SubmitCommand(cmd Command) error {
	return e.commands.Push(cmd)
}

// SubmitEvent enqueues ev on the bounded Event channel. A full channel
// is reported as a KindChannel error rather than blocking the caller,
// per spec.md §5 ("overflow is a first-class error, not a blocked
// thread").
func (e *Engine) SubmitEvent(ev Event) error {
	select {
	case e.events <- ev:
		return nil
	default:
		return ids.WithVariant(ids.KindChannel, ids.ChannelQueueFull, "event queue full")
	}
}

// SubscribeEffects registers a new Effect subscriber, per spec.md §4.11
// ("Fan-out via broadcast so each transport subscribes").
func (e *Engine) SubscribeEffects(buffer int) (<-chan Effect, func()) {
	return e.effects.Subscribe(buffer)
}

// AppEvents exposes the engine -> UI channel.
func (e *Engine) AppEvents() <-chan AppEvent { return e.appEvents }

func (e *Engine) nextSequence() uint64 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	e.seq++
	return e.seq
}

func (e *Engine) registerPeer(peer ids.PeerID, fp ids.Fingerprint) {
	e.peersMu.Lock()
	defer e.peersMu.Unlock()
	e.fingerprintOfPeer[peer] = fp
	e.peerOfFingerprint[fp] = peer
}

func (e *Engine) fingerprintOf(peer ids.PeerID) (ids.Fingerprint, bool) {
	e.peersMu.Lock()
	defer e.peersMu.Unlock()
	fp, ok := e.fingerprintOfPeer[peer]
	return fp, ok
}

func (e *Engine) peerOf(fp ids.Fingerprint) (ids.PeerID, bool) {
	e.peersMu.Lock()
	defer e.peersMu.Unlock()
	peer, ok := e.peerOfFingerprint[fp]
	return peer, ok
}

func (e *Engine) allKnownFingerprints() []ids.Fingerprint {
	e.peersMu.Lock()
	defer e.peersMu.Unlock()
	out := make([]ids.Fingerprint, 0, len(e.peerOfFingerprint))
	for fp := range e.peerOfFingerprint {
		out = append(out, fp)
	}
	return out
}

func (e *Engine) connStateOf(peer ids.PeerID) (connstate.State, bool) {
	e.connsMu.Lock()
	defer e.connsMu.Unlock()
	s, ok := e.conns[peer]
	return s, ok
}

// applyConn advances peer's connstate by ev, logging and leaving the
// state unchanged on an invalid transition rather than propagating the
// error — per spec.md §7, a malformed or out-of-order peer interaction
// must never abort the engine.
func (e *Engine) applyConn(peer ids.PeerID, ev connstate.Event) (connstate.State, []connstate.Effect) {
	e.connsMu.Lock()
	defer e.connsMu.Unlock()
	cur, ok := e.conns[peer]
	if !ok {
		cur = connstate.Disconnected{Peer: peer, LastSeen: e.clk.Now()}
	}
	next, effs, err := connstate.Apply(cur, ev, e.clk.Now())
	if err != nil {
		e.log.Debug().Err(err).Str("peer", peer.String()).Msg("ignoring invalid connstate transition")
		return cur, nil
	}
	e.conns[peer] = next
	return next, effs
}

// ensureDiscovering transitions peer's connstate into Discovering if it
// is unknown or still Disconnected, emitting any effect that transition
// produces. It is a no-op past Disconnected.
func (e *Engine) ensureDiscovering(peer ids.PeerID) {
	cur, known := e.connStateOf(peer)
	if known {
		if _, isDisconnected := cur.(connstate.Disconnected); !isDisconnected {
			return
		}
	}
	_, effs := e.applyConn(peer, connstate.Event{Kind: connstate.EventStartDiscovery})
	e.emitConnEffects(peer, effs)
}

func (e *Engine) emitConnEffects(peer ids.PeerID, effs []connstate.Effect) {
	for _, ce := range effs {
		switch ce.Kind {
		case connstate.EffectStartTransportDiscovery:
			e.effects.Publish(StartTransportDiscovery{Transport: ce.Transport})
		case connstate.EffectInitiateConnection:
			e.effects.Publish(InitiateConnection{Transport: ce.Transport, Peer: peer})
		}
	}
}

func (e *Engine) publishAppEvent(ev AppEvent) {
	select {
	case e.appEvents <- ev:
	default:
		e.log.Warn().Msg("app-event queue full, dropping event")
	}
}

// Run drives the single ingress task until ctx is cancelled or a
// Shutdown command is processed, per spec.md §4.11/§5. It is the only
// goroutine that ever touches sessions, msgStore, deliveries, conns, or
// reassembler: everything else reaches the engine through Command,
// Event, or the periodic maintenance tick.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer close(e.stopped)

	relayed := make(chan Command)
	go func() {
		for {
			cmd, ok := e.commands.Pop(ctx)
			if !ok {
				close(relayed)
				return
			}
			select {
			case relayed <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := e.clk.Ticker(e.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case cmd, ok := <-relayed:
			if ok {
				e.handleCommand(ctx, cmd)
			}
		case ev, ok := <-e.events:
			if ok {
				e.handleEvent(ctx, ev)
			}
		case <-ticker.C:
			e.maintenance(ctx)
		}
	}
}

func (e *Engine) shutdown() {
	e.commands.Close()
	e.identities.Flush()
	e.effects.Publish(StopListening{Transport: transport.Ble})
	e.effects.Publish(StopListening{Transport: transport.Nostr})
	e.effects.Close()
}

// Stopped is closed once Run has returned.
func (e *Engine) Stopped() <-chan struct{} { return e.stopped }

func (e *Engine) handleCommand(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case SendMessage:
		e.handleSendMessage(ctx, c)
	case ConnectToPeer:
		e.handleConnectToPeer(ctx, c)
	case StartDiscovery:
		e.effects.Publish(StartTransportDiscovery{Transport: transport.Ble})
		e.effects.Publish(StartTransportDiscovery{Transport: transport.Nostr})
		e.publishAnnounce(ctx)
	case Shutdown:
		if e.cancel != nil {
			e.cancel()
		}
	case QueryConnectionState:
		state, known := e.connStateOf(c.Peer)
		select {
		case c.Reply <- ConnectionStateReport{Peer: c.Peer, State: state, Known: known}:
		default:
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev Event) {
	switch v := ev.(type) {
	case PeerDiscovered:
		e.handlePeerDiscovered(v)
	case ConnectionEstablished:
		e.router.RecordSuccess(v.Transport, 0)
	case ConnectionLost:
		e.handleConnectionLost(v)
	case BitchatPacketReceived:
		e.handlePacket(ctx, v)
	case MessageReceived:
		e.handleMessageReceived(ctx, v)
	case TransportError:
		e.handleTransportError(v)
	}
}
