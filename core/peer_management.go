package core

// peer_management.go implements peer discovery, sampling and the
// point-to-point RPC stream helpers layered on top of Node (§4.9): unlike
// gossipsub announcements, GetHighestCommonBlock/GetTransactions are
// request/response and go over a direct libp2p stream per call.
// Generalizes the teacher's `PeerManagement` (deleted alongside
// `common_structs.go`) onto the narrower DPoS peer set.

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
)

// PeerInfo is a read-only view of a known peer, exposed to RPC/Bus
// consumers (§4.9, §6).
type PeerInfo struct {
	ID      NodeID `json:"id"`
	Addr    string `json:"addr"`
	Penalty int    `json:"penalty"`
}

// InboundMsg is one request delivered over a direct RPC stream.
type InboundMsg struct {
	PeerID  NodeID
	Proto   string
	Payload []byte
	Ts      int64
}

// PeerManager wraps Node with discovery, sampling and RPC stream helpers.
type PeerManager struct {
	node *Node
}

// NewPeerManager wraps an existing Node.
func NewPeerManager(n *Node) *PeerManager {
	return &PeerManager{node: n}
}

// DiscoverPeers returns every peer Node currently tracks.
func (pm *PeerManager) DiscoverPeers() []PeerInfo {
	peers := pm.node.Peers()
	infos := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, PeerInfo{ID: p.ID, Addr: p.Addr, Penalty: p.Penalty})
	}
	return infos
}

// Connect dials addr and registers the resulting peer.
func (pm *PeerManager) Connect(addr string) error {
	return pm.node.DialSeed([]string{addr})
}

// Disconnect closes and forgets a peer.
func (pm *PeerManager) Disconnect(id NodeID) error {
	return pm.node.Disconnect(id)
}

// Sample returns up to n distinct peer ids chosen uniformly at random,
// used to pick relay targets for re-announcement (§4.9).
func (pm *PeerManager) Sample(n int) ([]NodeID, error) {
	peers := pm.node.Peers()
	if n > len(peers) {
		n = len(peers)
	}
	for i := len(peers) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, err
		}
		j := int(jBig.Int64())
		peers[i], peers[j] = peers[j], peers[i]
	}
	ids := make([]NodeID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, peers[i].ID)
	}
	return ids, nil
}

// rpcProtocol namespaces a request/response RPC name onto a libp2p stream
// protocol id.
func rpcProtocol(name string) protocol.ID {
	return protocol.ID(fmt.Sprintf("/dpos/rpc/%s/1", name))
}

// Request opens a stream to peerID for rpcName, writes payload, and
// returns the peer's response. Used by getHighestCommonBlock/
// getTransactions (§4.9).
func (pm *PeerManager) Request(ctx context.Context, peerID NodeID, rpcName string, payload []byte) ([]byte, error) {
	pid, err := peer.Decode(string(peerID))
	if err != nil {
		return nil, &InvalidRequestError{Reason: "bad peer id: " + err.Error()}
	}
	s, err := pm.node.host.NewStream(ctx, pid, rpcProtocol(rpcName))
	if err != nil {
		return nil, fmt.Errorf("peer_management: open stream to %s: %w", peerID, err)
	}
	defer s.Close()

	if _, err := s.Write(payload); err != nil {
		return nil, fmt.Errorf("peer_management: write request: %w", err)
	}
	s.CloseWrite()

	resp, err := io.ReadAll(s)
	if err != nil {
		return nil, fmt.Errorf("peer_management: read response: %w", err)
	}
	return resp, nil
}

// HandleFunc processes one inbound RPC request and returns the response
// bytes to write back.
type HandleFunc func(ctx context.Context, msg InboundMsg) ([]byte, error)

// SetRequestHandler registers handler as the stream handler for rpcName;
// each inbound stream is read fully, dispatched, and answered.
func (pm *PeerManager) SetRequestHandler(rpcName string, handler HandleFunc) {
	pm.node.host.SetStreamHandler(rpcProtocol(rpcName), func(s network.Stream) {
		defer s.Close()
		peerID := NodeID(s.Conn().RemotePeer().String())

		payload, err := io.ReadAll(bufio.NewReader(s))
		if err != nil {
			logrus.WithError(err).WithField("peer", peerID).Warn("peer_management: read request failed")
			return
		}

		ctx, cancel := context.WithTimeout(pm.node.ctx, 10*time.Second)
		defer cancel()
		resp, err := handler(ctx, InboundMsg{PeerID: peerID, Proto: rpcName, Payload: payload, Ts: time.Now().UnixMilli()})
		if err != nil {
			logrus.WithError(err).WithField("peer", peerID).Warn("peer_management: rpc handler failed")
			return
		}
		if _, err := s.Write(resp); err != nil {
			logrus.WithError(err).WithField("peer", peerID).Warn("peer_management: write response failed")
		}
	})
}
