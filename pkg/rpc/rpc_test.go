package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distrisearch/distrisearch/pkg/cluster"
	"github.com/distrisearch/distrisearch/pkg/types"
)

func startTestServer(t *testing.T, h Handlers) (*Server, string) {
	t.Helper()
	s := NewServer(h)
	go s.Start("127.0.0.1:0")
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool { return s.Addr() != "" }, time.Second, time.Millisecond)
	return s, s.Addr()
}

func TestClient_Heartbeat_RoundTrips(t *testing.T) {
	var gotNode string
	var gotMeta map[string]string
	_, addr := startTestServer(t, Handlers{
		Heartbeat: func(nodeID string, metadata map[string]string) {
			gotNode = nodeID
			gotMeta = metadata
		},
	})

	client := NewClient()
	defer client.Close()

	resp, err := client.Heartbeat(context.Background(), addr, "n1", map[string]string{"zone": "a"})
	require.NoError(t, err)
	assert.Equal(t, "n1", resp.NodeID)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "n1", gotNode)
	assert.Equal(t, "a", gotMeta["zone"])
}

func TestClient_SendElectionMessage_DeliversToServerHandler(t *testing.T) {
	received := make(chan cluster.ElectionMessage, 1)
	_, addr := startTestServer(t, Handlers{
		Election: func(ctx context.Context, msg cluster.ElectionMessage) error {
			received <- msg
			return nil
		},
	})

	client := NewClient()
	defer client.Close()

	err := client.SendElectionMessage(context.Background(), addr, cluster.ElectionMessage{
		Type:     cluster.MsgElection,
		SenderID: "n2",
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, cluster.MsgElection, msg.Type)
		assert.Equal(t, "n2", msg.SenderID)
	case <-time.After(time.Second):
		t.Fatal("election message never reached server handler")
	}
}

func TestClient_Transfer_ReturnsMigratedAndFailed(t *testing.T) {
	_, addr := startTestServer(t, Handlers{
		Transfer: func(ctx context.Context, source, target string, ids []string) ([]string, []string) {
			return ids[:1], ids[1:]
		},
	})

	client := NewClient()
	defer client.Close()

	resp, err := client.Transfer(context.Background(), addr, "n1", "n2", []string{"d1", "d2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, resp.Migrated)
	assert.Equal(t, []string{"d2"}, resp.Failed)
}

func TestClient_Replicate_StoresOnServer(t *testing.T) {
	var stored *types.Document
	_, addr := startTestServer(t, Handlers{
		Replicate: func(ctx context.Context, doc *types.Document, source string) bool {
			stored = doc
			return true
		},
	})

	client := NewClient()
	defer client.Close()

	ok, err := client.Replicate(context.Background(), addr, &types.Document{ID: "d1", Size: 5}, "n1", "n2")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, stored)
	assert.Equal(t, "d1", stored.ID)
}

func TestServer_UnwiredHandlerReturnsError(t *testing.T) {
	_, addr := startTestServer(t, Handlers{})

	client := NewClient()
	defer client.Close()

	_, err := client.Heartbeat(context.Background(), addr, "n1", nil)
	assert.Error(t, err)
}
