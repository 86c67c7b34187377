package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNetwork wires a set of in-memory Election instances together so
// HandleMessage delivery is synchronous-ish (via goroutines) without any
// real transport.
type fakeNetwork struct {
	mu        sync.Mutex
	elections map[string]*Election
	dropFrom  map[string]bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{elections: make(map[string]*Election), dropFrom: make(map[string]bool)}
}

func (n *fakeNetwork) register(id string, e *Election) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.elections[id] = e
}

type networkSender struct {
	net *fakeNetwork
}

func (s *networkSender) SendElectionMessage(ctx context.Context, peerID string, msg ElectionMessage) error {
	s.net.mu.Lock()
	target, ok := s.net.elections[peerID]
	dropped := s.net.dropFrom[peerID]
	s.net.mu.Unlock()
	if !ok || dropped {
		return nil
	}
	go target.HandleMessage(ctx, msg)
	return nil
}

func TestElection_HighestIDBecomesMaster(t *testing.T) {
	net := newFakeNetwork()
	sender := &networkSender{net: net}

	var mu sync.Mutex
	becameMaster := make(map[string]bool)

	mk := func(id string) *Election {
		e := NewElection(id, ElectionConfig{ElectionTimeout: 100 * time.Millisecond, CoordinatorTimeout: 100 * time.Millisecond}, sender, func() {
			mu.Lock()
			becameMaster[id] = true
			mu.Unlock()
		}, nil)
		net.register(id, e)
		return e
	}

	e1 := mk("n1")
	e2 := mk("n2")
	e3 := mk("n3")

	for _, e := range []*Election{e1, e2, e3} {
		e.AddPeer("n1", true)
		e.AddPeer("n2", true)
		e.AddPeer("n3", true)
	}

	e1.StartElection(context.Background())

	require.Eventually(t, func() bool {
		return e1.CurrentMaster() == "n3" && e2.CurrentMaster() == "n3" && e3.CurrentMaster() == "n3"
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, e3.IsMaster())
	assert.False(t, e1.IsMaster())
	assert.False(t, e2.IsMaster())

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, becameMaster["n3"])
}

func TestElection_NoHigherPeersSelfProclaims(t *testing.T) {
	net := newFakeNetwork()
	sender := &networkSender{net: net}
	e := NewElection("n9", DefaultElectionConfig(), sender, nil, nil)
	net.register("n9", e)

	e.StartElection(context.Background())
	assert.True(t, e.IsMaster())
	assert.Equal(t, "n9", e.CurrentMaster())
}

func TestElection_SetInitialMaster(t *testing.T) {
	net := newFakeNetwork()
	sender := &networkSender{net: net}
	e := NewElection("n1", DefaultElectionConfig(), sender, nil, nil)

	e.SetInitialMaster("n2")
	assert.False(t, e.IsMaster())
	assert.Equal(t, "n2", e.CurrentMaster())

	e.SetInitialMaster("n1")
	assert.True(t, e.IsMaster())
}

func TestElection_NewMasterCallbackFiresForNonMasters(t *testing.T) {
	net := newFakeNetwork()
	sender := &networkSender{net: net}

	notified := make(chan string, 1)
	e1 := NewElection("n1", ElectionConfig{ElectionTimeout: 50 * time.Millisecond, CoordinatorTimeout: 50 * time.Millisecond}, sender, nil, func(master string) {
		notified <- master
	})
	e2 := NewElection("n2", ElectionConfig{ElectionTimeout: 50 * time.Millisecond, CoordinatorTimeout: 50 * time.Millisecond}, sender, nil, nil)
	net.register("n1", e1)
	net.register("n2", e2)
	e1.AddPeer("n2", true)
	e2.AddPeer("n1", true)

	e1.StartElection(context.Background())

	select {
	case master := <-notified:
		assert.Equal(t, "n2", master)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for new master notification")
	}
}
