package grpctransport

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"
)

// peer is one live mesh channel to a remote node. Outbound envelopes go
// through a bounded queue; when the peer cannot drain it fast enough the
// oldest-pending envelope is dropped rather than blocking a publish.
type peer struct {
	id     string
	stream channelStream
	clk    clock.Clock
	log    *logrus.Entry

	heartbeatEvery time.Duration

	sendQ chan *structpb.Struct
	done  chan struct{}
	once  sync.Once
}

func newPeer(id string, stream channelStream, cfg *Config, log *logrus.Entry) *peer {
	return &peer{
		id:             id,
		stream:         stream,
		clk:            cfg.Clock,
		log:            log.WithField("peer", id),
		heartbeatEvery: cfg.HeartbeatInterval,
		sendQ:          make(chan *structpb.Struct, cfg.SendQueueSize),
		done:           make(chan struct{}),
	}
}

func (p *peer) close() {
	p.once.Do(func() { close(p.done) })
}

func (p *peer) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// enqueue stages one envelope for delivery. Never blocks; on a full queue
// the envelope is dropped and counted against the peer in the log.
func (p *peer) enqueue(e envelope) {
	msg, err := e.encode()
	if err != nil {
		p.log.WithError(err).Warn("dropping unencodable envelope")
		return
	}
	select {
	case p.sendQ <- msg:
	case <-p.done:
	default:
		p.log.WithField("kind", e.Kind).Warn("send queue full, dropping envelope")
	}
}

// sendLoop drains the queue onto the stream and keeps the channel warm
// with heartbeats. Returns when the peer closes or the stream breaks.
func (p *peer) sendLoop(nodeID string) {
	ticker := p.clk.Ticker(p.heartbeatEvery)
	defer ticker.Stop()

	ping, err := envelope{Kind: kindPing, Node: nodeID}.encode()
	if err != nil {
		p.log.WithError(err).Error("encoding heartbeat")
		return
	}
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.sendQ:
			if err := p.stream.Send(msg); err != nil {
				p.log.WithError(err).Debug("stream send failed")
				p.close()
				return
			}
		case <-ticker.C:
			if err := p.stream.Send(ping); err != nil {
				p.log.WithError(err).Debug("heartbeat send failed")
				p.close()
				return
			}
		}
	}
}
