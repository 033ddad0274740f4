package grpctransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/commcore/commcore-go/internal/memtransport"
	"github.com/commcore/commcore-go/pkg/qos"
	"github.com/commcore/commcore-go/pkg/rterr"
	"github.com/commcore/commcore-go/pkg/transport"
)

// Transport bridges an in-process broker onto a gRPC mesh. Every local
// endpoint is announced to every connected peer, which mirrors it as a
// proxy endpoint in its own broker; published payloads are broadcast and
// injected through the proxy on the far side. All matching, QoS verdicts,
// and status counters therefore run through the same machinery as the
// in-process transport.
type Transport struct {
	cfg   Config
	log   *logrus.Entry
	local *memtransport.Broker

	mu         sync.Mutex
	started    bool
	closed     bool
	peers      map[string]*peer
	locals     map[string]localEndpoint
	remotePubs map[string]transport.PublisherHandle
	remoteSubs map[string]*remoteSub
	nextID     uint64

	listener   net.Listener
	grpcServer *grpc.Server
	group      *errgroup.Group
	cancel     context.CancelFunc
}

// localEndpoint is the announce record kept for replay to late peers.
type localEndpoint struct {
	id       string
	role     string
	topic    string
	typeName string
	profile  qos.Profile
}

// remoteSub is a proxy subscription mirroring a remote peer's real one. It
// exists for publisher-side matched and QoS accounting; its queue is
// drained and discarded because the real queue lives on the remote side.
type remoteSub struct {
	h    transport.SubscriptionHandle
	stop chan struct{}
	once sync.Once
}

func (r *remoteSub) close() {
	r.once.Do(func() { close(r.stop) })
	_ = r.h.Close()
}

func (r *remoteSub) drain() {
	ch := make(chan struct{}, 1)
	r.h.Attach(ch)
	defer r.h.Detach(ch)
	for {
		select {
		case <-r.stop:
			return
		case <-ch:
		}
		for {
			_, ok, err := r.h.Take()
			if err != nil || !ok {
				break
			}
		}
	}
}

// New creates a gRPC transport from config. Call Start before handing it
// to a context.
func New(config *Config) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	cfg := *config
	cfg.SetDefaults()

	return &Transport{
		cfg:        cfg,
		log:        cfg.Logger.WithField("node", cfg.NodeID),
		local:      memtransport.New(memtransport.Options{Clock: cfg.Clock}),
		peers:      make(map[string]*peer),
		locals:     make(map[string]localEndpoint),
		remotePubs: make(map[string]transport.PublisherHandle),
		remoteSubs: make(map[string]*remoteSub),
	}, nil
}

// Start binds the listen address and begins dialing configured peers.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started || t.closed {
		t.mu.Unlock()
		return fmt.Errorf("%w: transport already started or closed", rterr.ErrAlreadyInitialized)
	}
	t.started = true
	t.mu.Unlock()

	lis, err := net.Listen("tcp", t.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", t.cfg.ListenAddress, err)
	}
	server := grpc.NewServer(
		grpc.MaxRecvMsgSize(t.cfg.MaxMessageSize),
		grpc.MaxSendMsgSize(t.cfg.MaxMessageSize),
	)
	server.RegisterService(&channelServiceDesc, meshService{t})

	runCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(runCtx)

	t.mu.Lock()
	t.listener = lis
	t.grpcServer = server
	t.group = group
	t.cancel = cancel
	t.mu.Unlock()

	group.Go(func() error {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serving mesh channel: %w", err)
		}
		return nil
	})
	for _, addr := range t.cfg.Peers {
		addr := addr
		group.Go(func() error { return t.maintainPeer(groupCtx, addr) })
	}

	t.log.WithField("address", lis.Addr().String()).Info("mesh transport started")
	return nil
}

// ListeningAddress returns the bound address, useful with "localhost:0".
func (t *Transport) ListeningAddress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return t.cfg.ListenAddress
	}
	return t.listener.Addr().String()
}

// ConnectedPeers returns the IDs of currently connected peers, sorted.
func (t *Transport) ConnectedPeers() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// meshService adapts the transport to the channel service descriptor.
type meshService struct {
	t *Transport
}

func (m meshService) Channel(stream channelStream) error {
	msg, err := stream.Recv()
	if err != nil {
		return err
	}
	env, err := decodeEnvelope(msg)
	if err != nil || env.Kind != kindHello {
		return errors.New("mesh channel must open with a hello")
	}
	if env.Node == m.t.cfg.NodeID {
		return fmt.Errorf("peer presents our own node ID %q", env.Node)
	}
	hello, err := envelope{Kind: kindHello, Node: m.t.cfg.NodeID}.encode()
	if err != nil {
		return err
	}
	if err := stream.Send(hello); err != nil {
		return err
	}
	p, err := m.t.registerPeer(env.Node, stream)
	if err != nil {
		return err
	}
	go p.sendLoop(m.t.cfg.NodeID)
	m.t.announceAllTo(p)
	err = m.t.recvLoop(p)
	m.t.dropPeer(p)
	return err
}

// maintainPeer dials addr and keeps one stream alive to it, reconnecting
// until the transport shuts down.
func (t *Transport) maintainPeer(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(t.cfg.MaxMessageSize),
			grpc.MaxCallSendMsgSize(t.cfg.MaxMessageSize),
		),
	)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	for {
		if !t.attemptStream(ctx, conn) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.cfg.Clock.After(t.cfg.ReconnectInterval):
		}
	}
}

// attemptStream opens one mesh channel on conn and runs it to completion.
// Returns whether the caller should retry.
func (t *Transport) attemptStream(ctx context.Context, conn *grpc.ClientConn) bool {
	raw, err := conn.NewStream(ctx, &channelServiceDesc.Streams[0], channelFullMethod)
	if err != nil {
		return ctx.Err() == nil
	}
	stream := &clientChannelStream{raw}

	hello, err := envelope{Kind: kindHello, Node: t.cfg.NodeID}.encode()
	if err != nil {
		t.log.WithError(err).Error("encoding hello")
		return false
	}
	if err := stream.Send(hello); err != nil {
		return ctx.Err() == nil
	}
	msg, err := stream.Recv()
	if err != nil {
		return ctx.Err() == nil
	}
	env, err := decodeEnvelope(msg)
	if err != nil || env.Kind != kindHello {
		t.log.Warn("peer opened without a hello, dropping stream")
		return true
	}

	p, err := t.registerPeer(env.Node, stream)
	if err != nil {
		// Already connected through the other direction.
		t.log.WithField("peer", env.Node).Debug(err.Error())
		return false
	}
	go p.sendLoop(t.cfg.NodeID)
	t.announceAllTo(p)
	_ = t.recvLoop(p)
	t.dropPeer(p)
	return ctx.Err() == nil
}

func (t *Transport) registerPeer(id string, stream channelStream) (*peer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("transport closed")
	}
	if _, ok := t.peers[id]; ok {
		return nil, fmt.Errorf("peer %s already connected", id)
	}
	p := newPeer(id, stream, &t.cfg, t.log)
	t.peers[id] = p
	return p, nil
}

// announceAllTo replays every live local endpoint to a new peer.
func (t *Transport) announceAllTo(p *peer) {
	t.mu.Lock()
	locals := make([]localEndpoint, 0, len(t.locals))
	for _, le := range t.locals {
		locals = append(locals, le)
	}
	t.mu.Unlock()
	for _, le := range locals {
		p.enqueue(envelope{
			Kind:     kindAnnounce,
			Node:     t.cfg.NodeID,
			Role:     le.role,
			Endpoint: le.id,
			Topic:    le.topic,
			TypeName: le.typeName,
			Profile:  le.profile,
		})
	}
}

func (t *Transport) recvLoop(p *peer) error {
	for {
		msg, err := p.stream.Recv()
		if err != nil {
			p.close()
			if p.closed() || !t.isOpen() {
				return nil
			}
			return err
		}
		env, err := decodeEnvelope(msg)
		if err != nil {
			p.log.WithError(err).Warn("discarding malformed envelope")
			continue
		}
		t.handleEnvelope(p, env)
	}
}

func (t *Transport) handleEnvelope(p *peer, env envelope) {
	switch env.Kind {
	case kindPing, kindHello:
		// Channel keepalive; nothing to do.
	case kindAnnounce:
		t.handleAnnounce(p, env)
	case kindRetract:
		t.handleRetract(p, env)
	case kindData:
		t.handleData(p, env)
	case kindAssert:
		t.handleAssert(p, env)
	default:
		p.log.WithField("kind", env.Kind).Warn("unknown envelope kind")
	}
}

func (t *Transport) handleAnnounce(p *peer, env envelope) {
	key := p.id + "/" + env.Endpoint
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	_, dupPub := t.remotePubs[key]
	_, dupSub := t.remoteSubs[key]
	if dupPub || dupSub {
		t.mu.Unlock()
		return
	}
	switch env.Role {
	case rolePublisher:
		h, err := t.local.CreatePublisher(env.Topic, env.TypeName, env.Profile)
		if err != nil {
			t.mu.Unlock()
			p.log.WithError(err).WithField("topic", env.Topic).Warn("cannot mirror remote publisher")
			return
		}
		t.remotePubs[key] = h
	case roleSubscription:
		h, err := t.local.CreateSubscription(env.Topic, env.TypeName, env.Profile)
		if err != nil {
			t.mu.Unlock()
			p.log.WithError(err).WithField("topic", env.Topic).Warn("cannot mirror remote subscription")
			return
		}
		rs := &remoteSub{h: h, stop: make(chan struct{})}
		t.remoteSubs[key] = rs
		go rs.drain()
	default:
		t.mu.Unlock()
		p.log.WithField("role", env.Role).Warn("announce with unknown role")
		return
	}
	t.mu.Unlock()
}

func (t *Transport) handleRetract(p *peer, env envelope) {
	key := p.id + "/" + env.Endpoint
	t.mu.Lock()
	pub := t.remotePubs[key]
	sub := t.remoteSubs[key]
	delete(t.remotePubs, key)
	delete(t.remoteSubs, key)
	t.mu.Unlock()
	if pub != nil {
		_ = pub.Close()
	}
	if sub != nil {
		sub.close()
	}
}

func (t *Transport) handleData(p *peer, env envelope) {
	key := p.id + "/" + env.Endpoint
	t.mu.Lock()
	pub := t.remotePubs[key]
	t.mu.Unlock()
	if pub == nil {
		p.log.WithField("topic", env.Topic).Debug("data for unknown remote publisher")
		return
	}
	if err := pub.Publish(env.Payload); err != nil {
		p.log.WithError(err).Warn("injecting remote payload")
	}
}

func (t *Transport) handleAssert(p *peer, env envelope) {
	key := p.id + "/" + env.Endpoint
	t.mu.Lock()
	pub := t.remotePubs[key]
	t.mu.Unlock()
	if pub != nil {
		_ = pub.AssertLiveliness()
	}
}

// dropPeer tears down the peer's stream state and every proxy endpoint it
// announced.
func (t *Transport) dropPeer(p *peer) {
	prefix := p.id + "/"
	t.mu.Lock()
	if t.peers[p.id] == p {
		delete(t.peers, p.id)
	}
	var pubs []transport.PublisherHandle
	var subs []*remoteSub
	for key, h := range t.remotePubs {
		if strings.HasPrefix(key, prefix) {
			pubs = append(pubs, h)
			delete(t.remotePubs, key)
		}
	}
	for key, rs := range t.remoteSubs {
		if strings.HasPrefix(key, prefix) {
			subs = append(subs, rs)
			delete(t.remoteSubs, key)
		}
	}
	t.mu.Unlock()

	p.close()
	for _, h := range pubs {
		_ = h.Close()
	}
	for _, rs := range subs {
		rs.close()
	}
}

func (t *Transport) isOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// broadcast enqueues env to every connected peer.
func (t *Transport) broadcast(env envelope) {
	t.mu.Lock()
	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()
	for _, p := range peers {
		p.enqueue(env)
	}
}

// CreatePublisher implements transport.Transport.
func (t *Transport) CreatePublisher(topic, typeName string, profile qos.Profile) (transport.PublisherHandle, error) {
	inner, err := t.local.CreatePublisher(topic, typeName, profile)
	if err != nil {
		return nil, err
	}
	le, err := t.registerLocal(rolePublisher, topic, typeName, profile)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	t.broadcast(announceFor(t.cfg.NodeID, le))
	return &localPublisher{t: t, le: le, inner: inner}, nil
}

// CreateSubscription implements transport.Transport.
func (t *Transport) CreateSubscription(topic, typeName string, profile qos.Profile) (transport.SubscriptionHandle, error) {
	inner, err := t.local.CreateSubscription(topic, typeName, profile)
	if err != nil {
		return nil, err
	}
	le, err := t.registerLocal(roleSubscription, topic, typeName, profile)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	t.broadcast(announceFor(t.cfg.NodeID, le))
	return &localSubscription{t: t, le: le, inner: inner}, nil
}

func (t *Transport) registerLocal(role, topic, typeName string, profile qos.Profile) (localEndpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return localEndpoint{}, errors.New("transport closed")
	}
	if !t.started {
		return localEndpoint{}, fmt.Errorf("%w: transport not started", rterr.ErrNotInitialized)
	}
	le := localEndpoint{
		id:       fmt.Sprintf("%s-%d", t.cfg.NodeID, t.nextID),
		role:     role,
		topic:    topic,
		typeName: typeName,
		profile:  profile,
	}
	t.nextID++
	t.locals[le.id] = le
	return le, nil
}

func (t *Transport) dropLocal(le localEndpoint) {
	t.mu.Lock()
	delete(t.locals, le.id)
	t.mu.Unlock()
	t.broadcast(envelope{Kind: kindRetract, Node: t.cfg.NodeID, Endpoint: le.id})
}

func announceFor(nodeID string, le localEndpoint) envelope {
	return envelope{
		Kind:     kindAnnounce,
		Node:     nodeID,
		Role:     le.role,
		Endpoint: le.id,
		Topic:    le.topic,
		TypeName: le.typeName,
		Profile:  le.profile,
	}
}

// SupportsEvent implements transport.Transport.
func (t *Transport) SupportsEvent(kind transport.EventKind) bool {
	return t.local.SupportsEvent(kind)
}

// TopicNamesAndTypes implements transport.Transport. Proxy endpoints from
// remote peers are included, so the view spans the mesh.
func (t *Transport) TopicNamesAndTypes() map[string]string {
	return t.local.TopicNamesAndTypes()
}

// CountPublishers implements transport.Transport.
func (t *Transport) CountPublishers(topic string) (int, error) {
	return t.local.CountPublishers(topic)
}

// CountSubscriptions implements transport.Transport.
func (t *Transport) CountSubscriptions(topic string) (int, error) {
	return t.local.CountSubscriptions(topic)
}

// WatchGraph implements transport.Transport.
func (t *Transport) WatchGraph(fn func()) (cancel func()) {
	return t.local.WatchGraph(fn)
}

// Close implements transport.Transport. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peers := make([]*peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.peers = make(map[string]*peer)
	subs := make([]*remoteSub, 0, len(t.remoteSubs))
	for _, rs := range t.remoteSubs {
		subs = append(subs, rs)
	}
	t.remoteSubs = make(map[string]*remoteSub)
	t.remotePubs = make(map[string]transport.PublisherHandle)
	cancel := t.cancel
	server := t.grpcServer
	group := t.group
	t.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	for _, rs := range subs {
		rs.close()
	}
	if cancel != nil {
		cancel()
	}
	if server != nil {
		server.Stop()
	}
	if group != nil {
		if err := group.Wait(); err != nil {
			t.log.WithError(err).Warn("mesh transport shut down with error")
		}
	}
	return t.local.Close()
}

var _ transport.Transport = (*Transport)(nil)

// localPublisher wraps a broker publisher and mirrors its traffic onto the
// mesh.
type localPublisher struct {
	t     *Transport
	le    localEndpoint
	inner transport.PublisherHandle
}

func (p *localPublisher) Publish(payload []byte) error {
	if err := p.inner.Publish(payload); err != nil {
		return err
	}
	p.t.broadcast(envelope{
		Kind:     kindData,
		Node:     p.t.cfg.NodeID,
		Endpoint: p.le.id,
		Topic:    p.le.topic,
		Payload:  payload,
	})
	return nil
}

func (p *localPublisher) AssertLiveliness() error {
	if err := p.inner.AssertLiveliness(); err != nil {
		return err
	}
	p.t.broadcast(envelope{Kind: kindAssert, Node: p.t.cfg.NodeID, Endpoint: p.le.id})
	return nil
}

func (p *localPublisher) CreateEvent(kind transport.EventKind) (transport.EventHandle, error) {
	return p.inner.CreateEvent(kind)
}

func (p *localPublisher) Close() error {
	err := p.inner.Close()
	p.t.dropLocal(p.le)
	return err
}

// localSubscription wraps a broker subscription; remote publishers reach
// it through their proxy in the local broker.
type localSubscription struct {
	t     *Transport
	le    localEndpoint
	inner transport.SubscriptionHandle
}

func (s *localSubscription) Take() ([]byte, bool, error) { return s.inner.Take() }
func (s *localSubscription) Ready() bool                 { return s.inner.Ready() }
func (s *localSubscription) Attach(ch chan<- struct{})   { s.inner.Attach(ch) }
func (s *localSubscription) Detach(ch chan<- struct{})   { s.inner.Detach(ch) }

func (s *localSubscription) CreateEvent(kind transport.EventKind) (transport.EventHandle, error) {
	return s.inner.CreateEvent(kind)
}

func (s *localSubscription) Close() error {
	err := s.inner.Close()
	s.t.dropLocal(s.le)
	return err
}
