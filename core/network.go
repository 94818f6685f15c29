package core

// network.go implements the transport node of §4.9: a libp2p host running
// gossipsub for block/transaction announcement and direct peer streams for
// the request/response RPCs. Generalizes the teacher's `NewNode`/mDNS
// bootstrap from the deleted `common_structs.go`+`network.go` pair onto the
// DPoS topic set (§4.9's blockAnnouncement/postTransactionsAnnouncement) and
// folds in the peer penalty bookkeeping the teacher's node lacked.

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// NodeID is a libp2p peer id rendered as a string, used as a map key
// throughout the transport and rate-limiting layers.
type NodeID string

// Peer tracks what the transport layer knows about a connected node.
type Peer struct {
	ID      NodeID
	Addr    string
	Penalty int
}

// Message is a decoded gossipsub delivery.
type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

// NodeConfig configures a Node's listen address, discovery tag and
// bootstrap peer set.
type NodeConfig struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

const (
	topicBlockAnnouncement       = "dpos/block-announcement/1"
	topicTransactionAnnouncement = "dpos/tx-announcement/1"
)

// PeerPenaltyEvent is the payload of an "app:applyPenaltyOnPeer" bus
// publish (§6, §8 scenarios 2-3): a peer's accumulated penalty just
// increased by amount.
type PeerPenaltyEvent struct {
	PeerID  NodeID
	Penalty int
}

// Node wraps a libp2p host and gossipsub router with the peer bookkeeping
// the rate limiter and penalty system need.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	cfg    NodeConfig
	bus    *Bus

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic
	subLock   sync.Mutex
	subs      map[string]*pubsub.Subscription

	peerLock sync.RWMutex
	peers    map[NodeID]*Peer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNode creates and bootstraps a transport node: a libp2p host, a
// gossipsub router, and mDNS discovery for the local network. bus is used
// to publish "app:applyPenaltyOnPeer" when a peer is penalized (§6); it may
// be nil in tests that do not exercise penalty emission.
func NewNode(cfg NodeConfig, bus *Bus) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("network: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("network: create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		cfg:    cfg,
		bus:    bus,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		peers:  make(map[NodeID]*Peer),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := n.DialSeed(cfg.BootstrapPeers); err != nil {
		logrus.WithError(err).Warn("network: bootstrap dial had failures")
	}

	if tag := cfg.DiscoveryTag; tag != "" {
		mdns.NewMdnsService(h, tag, n)
	}

	return n, nil
}

var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to a freshly discovered
// peer unless it is already known or is this node itself.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	id := NodeID(info.ID.String())
	n.peerLock.RLock()
	_, exists := n.peers[id]
	n.peerLock.RUnlock()
	if exists {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.WithError(err).WithField("peer", id).Warn("network: mDNS connect failed")
		return
	}
	n.peerLock.Lock()
	n.peers[id] = &Peer{ID: id, Addr: info.String()}
	n.peerLock.Unlock()
}

// DialSeed connects to every bootstrap peer address, collecting (not
// aborting on) individual failures.
func (n *Node) DialSeed(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		id := NodeID(pi.ID.String())
		n.peerLock.Lock()
		n.peers[id] = &Peer{ID: id, Addr: addr}
		n.peerLock.Unlock()
	}
	if len(errs) > 0 {
		return fmt.Errorf("network: dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// joinTopic returns (joining if necessary) the gossipsub topic handle.
func (n *Node) joinTopic(topic string) (*pubsub.Topic, error) {
	n.topicLock.Lock()
	defer n.topicLock.Unlock()
	if t, ok := n.topics[topic]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("network: join topic %s: %w", topic, err)
	}
	n.topics[topic] = t
	return t, nil
}

// Publish broadcasts data on topic.
func (n *Node) Publish(topic string, data []byte) error {
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	if err := t.Publish(n.ctx, data); err != nil {
		return fmt.Errorf("network: publish topic %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of decoded messages for topic.
func (n *Node) Subscribe(topic string) (<-chan Message, error) {
	n.subLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		t, err := n.joinTopic(topic)
		if err != nil {
			n.subLock.Unlock()
			return nil, err
		}
		sub, err = t.Subscribe()
		if err != nil {
			n.subLock.Unlock()
			return nil, fmt.Errorf("network: subscribe topic %s: %w", topic, err)
		}
		n.subs[topic] = sub
	}
	n.subLock.Unlock()

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			if msg.GetFrom() == n.host.ID() {
				continue
			}
			out <- Message{From: NodeID(msg.GetFrom().String()), Topic: topic, Data: msg.Data}
		}
	}()
	return out, nil
}

// ID returns this node's own peer id.
func (n *Node) ID() NodeID { return NodeID(n.host.ID().String()) }

// ListenAndServe blocks until the node's context is cancelled.
func (n *Node) ListenAndServe() {
	<-n.ctx.Done()
	logrus.Info("network: node shutting down")
}

// Close tears down the host and cancels the node's context.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

// Peers returns a snapshot of currently tracked peers.
func (n *Node) Peers() []*Peer {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	list := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		list = append(list, p)
	}
	return list
}

// Penalize raises a peer's penalty score and publishes
// "app:applyPenaltyOnPeer" (§6, §8 scenarios 2-3). Penalize does not
// disconnect the peer, and no caller disconnects a peer based on its score.
func (n *Node) Penalize(id NodeID, amount int) int {
	n.peerLock.Lock()
	p, ok := n.peers[id]
	if !ok {
		p = &Peer{ID: id}
		n.peers[id] = p
	}
	p.Penalty += amount
	penalty := p.Penalty
	n.peerLock.Unlock()

	if n.bus != nil {
		n.bus.Publish("app:applyPenaltyOnPeer", PeerPenaltyEvent{PeerID: id, Penalty: amount})
	}
	return penalty
}

const banPenaltyThreshold = 1000

// banned reports whether a peer's accumulated penalty has reached the ban
// threshold.
func (n *Node) banned(id NodeID) bool {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	p, ok := n.peers[id]
	return ok && p.Penalty >= banPenaltyThreshold
}

// Disconnect drops a peer's connection and bookkeeping.
func (n *Node) Disconnect(id NodeID) error {
	pid, err := peer.Decode(string(id))
	if err != nil {
		return err
	}
	if err := n.host.Network().ClosePeer(pid); err != nil {
		return err
	}
	n.peerLock.Lock()
	delete(n.peers, id)
	n.peerLock.Unlock()
	return nil
}
