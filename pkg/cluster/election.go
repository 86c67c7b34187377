package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/distrisearch/distrisearch/pkg/log"
)

// ElectionState names the phase of an in-progress (or settled) Bully
// election.
type ElectionState string

const (
	ElectionIdle        ElectionState = "idle"
	ElectionInProgress  ElectionState = "election"
	ElectionWaitingCoord ElectionState = "waiting"
	ElectionIsCoordinator ElectionState = "coordinator"
)

// ElectionMessageType names a Bully protocol message.
type ElectionMessageType string

const (
	MsgElection    ElectionMessageType = "election"
	MsgElectionOK  ElectionMessageType = "election_ok"
	MsgCoordinator ElectionMessageType = "coordinator"
)

// ElectionMessage is a Bully protocol message exchanged between peers.
// Unlike the reference implementation, which opens its own UDP socket,
// transport is delegated entirely to a PeerSender — these messages travel
// over whatever RPC channel the rest of the cluster already uses.
type ElectionMessage struct {
	Type      ElectionMessageType
	SenderID  string
	NewMaster string
}

// PeerSender delivers an election message to a single peer by node ID.
// Implementations are expected to be fire-and-forget: a failed send just
// means that peer doesn't get to vote in this round.
type PeerSender interface {
	SendElectionMessage(ctx context.Context, peerID string, msg ElectionMessage) error
}

// ElectionConfig tunes Bully election timeouts.
type ElectionConfig struct {
	ElectionTimeout    time.Duration
	CoordinatorTimeout time.Duration
}

// DefaultElectionConfig mirrors the reference defaults.
func DefaultElectionConfig() ElectionConfig {
	return ElectionConfig{
		ElectionTimeout:    5 * time.Second,
		CoordinatorTimeout: 10 * time.Second,
	}
}

type electionPeer struct {
	canBeMaster bool
}

// Election implements the Bully leader election algorithm (C16): the node
// with the highest ID wins. Message transport is delegated to a PeerSender;
// Election itself only formats messages, tracks peer/master state, and
// drives timeouts.
type Election struct {
	nodeID string
	cfg    ElectionConfig
	sender PeerSender

	onBecomeMaster func()
	onNewMaster    func(masterID string)

	mu           sync.Mutex
	state        ElectionState
	currentMaster string
	isMaster     bool
	peers        map[string]electionPeer

	gotOK          chan struct{}
	gotCoordinator chan struct{}

	logger zerolog.Logger
}

// NewElection constructs an Election for nodeID.
func NewElection(nodeID string, cfg ElectionConfig, sender PeerSender, onBecomeMaster func(), onNewMaster func(string)) *Election {
	if cfg.ElectionTimeout <= 0 || cfg.CoordinatorTimeout <= 0 {
		cfg = DefaultElectionConfig()
	}
	return &Election{
		nodeID:         nodeID,
		cfg:            cfg,
		sender:         sender,
		onBecomeMaster: onBecomeMaster,
		onNewMaster:    onNewMaster,
		state:          ElectionIdle,
		peers:          make(map[string]electionPeer),
		logger:         log.WithComponent("cluster.election"),
	}
}

// AddPeer registers a peer as eligible to participate in elections.
func (e *Election) AddPeer(nodeID string, canBeMaster bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peers[nodeID] = electionPeer{canBeMaster: canBeMaster}
}

// RemovePeer drops a peer from consideration.
func (e *Election) RemovePeer(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.peers, nodeID)
}

// IsMaster reports whether this node currently believes itself the master.
func (e *Election) IsMaster() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isMaster
}

// CurrentMaster returns the currently known master's node ID, or "" if
// none is known.
func (e *Election) CurrentMaster() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentMaster
}

// SetInitialMaster seeds the known master before any election has run, e.g.
// when rejoining a cluster whose leader is already known.
func (e *Election) SetInitialMaster(masterID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentMaster = masterID
	e.isMaster = masterID == e.nodeID
	if e.isMaster {
		e.state = ElectionIsCoordinator
	} else {
		e.state = ElectionIdle
	}
}

func (e *Election) higherNodes() []string {
	var higher []string
	for id, p := range e.peers {
		if p.canBeMaster && id > e.nodeID {
			higher = append(higher, id)
		}
	}
	sort.Strings(higher)
	return higher
}

// StartElection initiates a Bully election round: ELECTION is sent to every
// peer with a higher node ID; if none respond OK within ElectionTimeout,
// this node proclaims itself coordinator; if one does, it waits for a
// COORDINATOR announcement within CoordinatorTimeout, restarting the
// election on timeout.
func (e *Election) StartElection(ctx context.Context) {
	e.mu.Lock()
	if e.state == ElectionInProgress {
		e.mu.Unlock()
		e.logger.Debug().Msg("election already in progress")
		return
	}
	e.logger.Info().Str("node_id", e.nodeID).Msg("starting election")
	e.state = ElectionInProgress
	e.gotOK = make(chan struct{})
	e.gotCoordinator = make(chan struct{})
	higher := e.higherNodes()
	e.mu.Unlock()

	if len(higher) == 0 {
		e.logger.Info().Msg("no higher-ID nodes known, proclaiming coordinator")
		e.becomeCoordinator(ctx)
		return
	}

	msg := ElectionMessage{Type: MsgElection, SenderID: e.nodeID}
	for _, peerID := range higher {
		if err := e.sender.SendElectionMessage(ctx, peerID, msg); err != nil {
			e.logger.Debug().Str("peer_id", peerID).Err(err).Msg("failed to send ELECTION")
		}
	}

	e.mu.Lock()
	gotOK := e.gotOK
	e.mu.Unlock()

	select {
	case <-gotOK:
		e.logger.Debug().Msg("received ELECTION_OK, waiting for COORDINATOR")
		e.mu.Lock()
		e.state = ElectionWaitingCoord
		gotCoordinator := e.gotCoordinator
		e.mu.Unlock()

		select {
		case <-gotCoordinator:
		case <-time.After(e.cfg.CoordinatorTimeout):
			e.logger.Warn().Msg("timed out waiting for COORDINATOR, restarting election")
			e.mu.Lock()
			e.state = ElectionIdle
			e.mu.Unlock()
			e.StartElection(ctx)
		case <-ctx.Done():
		}
	case <-time.After(e.cfg.ElectionTimeout):
		e.logger.Info().Msg("no ELECTION_OK received, proclaiming coordinator")
		e.becomeCoordinator(ctx)
	case <-ctx.Done():
	}
}

func (e *Election) becomeCoordinator(ctx context.Context) {
	e.mu.Lock()
	e.state = ElectionIsCoordinator
	e.isMaster = true
	e.currentMaster = e.nodeID
	peerIDs := make([]string, 0, len(e.peers))
	for id := range e.peers {
		peerIDs = append(peerIDs, id)
	}
	e.mu.Unlock()

	e.logger.Info().Str("node_id", e.nodeID).Msg("became master")

	msg := ElectionMessage{Type: MsgCoordinator, SenderID: e.nodeID, NewMaster: e.nodeID}
	for _, peerID := range peerIDs {
		if err := e.sender.SendElectionMessage(ctx, peerID, msg); err != nil {
			e.logger.Debug().Str("peer_id", peerID).Err(err).Msg("failed to send COORDINATOR")
		}
	}

	if e.onBecomeMaster != nil {
		e.onBecomeMaster()
	}
}

// HandleMessage processes an inbound election message from a peer. Callers
// (the RPC layer) should invoke this whenever an ElectionMessage arrives.
func (e *Election) HandleMessage(ctx context.Context, msg ElectionMessage) {
	switch msg.Type {
	case MsgElection:
		e.handleElection(ctx, msg.SenderID)
	case MsgElectionOK:
		e.handleElectionOK()
	case MsgCoordinator:
		e.handleCoordinator(msg)
	}
}

func (e *Election) handleElection(ctx context.Context, sender string) {
	e.logger.Debug().Str("sender", sender).Msg("received ELECTION")
	if e.nodeID <= sender {
		return
	}

	response := ElectionMessage{Type: MsgElectionOK, SenderID: e.nodeID}
	if err := e.sender.SendElectionMessage(ctx, sender, response); err != nil {
		e.logger.Debug().Str("peer_id", sender).Err(err).Msg("failed to send ELECTION_OK")
	}

	e.mu.Lock()
	idle := e.state == ElectionIdle
	e.mu.Unlock()
	if idle {
		go e.StartElection(ctx)
	}
}

func (e *Election) handleElectionOK() {
	e.logger.Debug().Msg("received ELECTION_OK")
	e.mu.Lock()
	ch := e.gotOK
	e.mu.Unlock()
	if ch != nil {
		closeOnce(ch)
	}
}

func (e *Election) handleCoordinator(msg ElectionMessage) {
	newMaster := msg.NewMaster
	if newMaster == "" {
		newMaster = msg.SenderID
	}
	e.logger.Info().Str("new_master", newMaster).Msg("new master announced")

	e.mu.Lock()
	e.currentMaster = newMaster
	e.isMaster = newMaster == e.nodeID
	e.state = ElectionIdle
	ch := e.gotCoordinator
	selfIsMaster := e.isMaster
	e.mu.Unlock()

	if ch != nil {
		closeOnce(ch)
	}

	if e.onNewMaster != nil && !selfIsMaster {
		e.onNewMaster(newMaster)
	}
}

// closeOnce closes ch if it isn't already closed, tolerating the
// already-closed case so repeated ELECTION_OK/COORDINATOR deliveries don't
// panic.
func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// ElectionStats is a diagnostics snapshot.
type ElectionStats struct {
	NodeID       string
	State        ElectionState
	IsMaster     bool
	CurrentMaster string
	PeerCount    int
	HigherNodes  []string
}

// Stats returns a point-in-time diagnostics snapshot.
func (e *Election) Stats() ElectionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ElectionStats{
		NodeID:        e.nodeID,
		State:         e.state,
		IsMaster:      e.isMaster,
		CurrentMaster: e.currentMaster,
		PeerCount:     len(e.peers),
		HigherNodes:   e.higherNodes(),
	}
}
