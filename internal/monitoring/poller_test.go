package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratodash/strato/internal/config"
	"github.com/stratodash/strato/internal/models"
	"github.com/stratodash/strato/pkg/proxmox"
)

// fakeClient implements the poll surface; the embedded interface covers
// the proxy methods the poller never calls.
type fakeClient struct {
	Client
	host      string
	nodes     []proxmox.Node
	resources []proxmox.ClusterResource
	err       error
}

func (f *fakeClient) GetNodes(ctx context.Context) ([]proxmox.Node, error) {
	return f.nodes, f.err
}

func (f *fakeClient) GetClusterResources(ctx context.Context, kind string) ([]proxmox.ClusterResource, error) {
	return f.resources, f.err
}

func (f *fakeClient) GetVersion(ctx context.Context) (*proxmox.VersionInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &proxmox.VersionInfo{Version: "8.2.4"}, nil
}

func (f *fakeClient) Host() string { return f.host }

type captureHub struct {
	mu     sync.Mutex
	states []interface{}
}

func (h *captureHub) BroadcastState(state interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, state)
}

func (h *captureHub) last() (interface{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) == 0 {
		return nil, false
	}
	return h.states[len(h.states)-1], true
}

func newTestStore(t *testing.T, conns ...config.Connection) *config.Store {
	t.Helper()
	store, err := config.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	for i := range conns {
		require.NoError(t, store.CreateConnection(&conns[i]))
	}
	return store
}

func TestPollerMergesConnections(t *testing.T) {
	store := newTestStore(t,
		config.Connection{Name: "pve-a", Host: "https://a.example.com:8006", User: "root@pam", Password: "pw"},
		config.Connection{Name: "pve-b", Host: "https://b.example.com:8006", User: "root@pam", Password: "pw"},
	)

	clients := map[string]*fakeClient{
		"https://a.example.com:8006": {
			host: "https://a.example.com:8006",
			nodes: []proxmox.Node{
				{Node: "alpha", Status: "online", CPU: 0.25, MaxCPU: 8, Uptime: 1000},
			},
			resources: []proxmox.ClusterResource{
				{Type: "qemu", Node: "alpha", VMID: 100, Name: "web", Status: "running"},
				{Type: "storage", Node: "alpha", Name: "local"},
			},
		},
		"https://b.example.com:8006": {
			host: "https://b.example.com:8006",
			nodes: []proxmox.Node{
				{Node: "beta", Status: "online", CPU: 0.5, MaxCPU: 16},
			},
			resources: []proxmox.ClusterResource{
				{Type: "qemu", Node: "beta", VMID: 200, Name: "db", Status: "stopped", Template: 0},
			},
		},
	}

	hub := &captureHub{}
	poller := NewPoller(store, hub, time.Minute, func(conn config.Connection) (Client, error) {
		return clients[conn.Host], nil
	})

	require.NoError(t, poller.Reload())
	poller.Poll(context.Background())

	state := poller.State()
	assert.Len(t, state.Nodes, 2)
	assert.Len(t, state.VMs, 2, "non-qemu resources must be filtered out")
	assert.Len(t, state.Connections, 2)
	for _, health := range state.Connections {
		assert.True(t, health.Healthy, "connection %s", health.Name)
	}
	assert.NotZero(t, state.LastUpdate)

	broadcast, ok := hub.last()
	require.True(t, ok, "poll must broadcast the snapshot")
	assert.Equal(t, state, broadcast.(models.StateSnapshot))
}

func TestPollerMarksFailedConnectionUnhealthy(t *testing.T) {
	store := newTestStore(t,
		config.Connection{Name: "good", Host: "https://good.example.com:8006", User: "root@pam", Password: "pw"},
		config.Connection{Name: "bad", Host: "https://bad.example.com:8006", User: "root@pam", Password: "pw"},
	)

	poller := NewPoller(store, &captureHub{}, time.Minute, func(conn config.Connection) (Client, error) {
		if conn.Name == "bad" {
			return &fakeClient{host: conn.Host, err: errors.New("connection refused")}, nil
		}
		return &fakeClient{
			host:  conn.Host,
			nodes: []proxmox.Node{{Node: "n1", Status: "online"}},
		}, nil
	})

	require.NoError(t, poller.Reload())
	poller.Poll(context.Background())

	state := poller.State()
	require.Len(t, state.Connections, 2)

	byName := map[string]models.ConnectionHealth{}
	for _, c := range state.Connections {
		byName[c.Name] = c
	}
	assert.True(t, byName["good"].Healthy)
	assert.False(t, byName["bad"].Healthy)
	assert.Contains(t, byName["bad"].Error, "connection refused")
	assert.Len(t, state.Nodes, 1, "healthy connection still contributes nodes")
}

func TestPollerClientFactoryError(t *testing.T) {
	store := newTestStore(t,
		config.Connection{Name: "broken", Host: "https://broken.example.com:8006", User: "root@pam", Password: "pw"},
	)

	poller := NewPoller(store, &captureHub{}, time.Minute, func(conn config.Connection) (Client, error) {
		return nil, errors.New("invalid credentials format")
	})

	require.NoError(t, poller.Reload())
	poller.Poll(context.Background())

	state := poller.State()
	require.Len(t, state.Connections, 1)
	assert.False(t, state.Connections[0].Healthy)
	assert.Contains(t, state.Connections[0].Error, "invalid credentials format")
}

func TestPollerTestConnection(t *testing.T) {
	store := newTestStore(t)
	poller := NewPoller(store, nil, time.Minute, func(conn config.Connection) (Client, error) {
		if conn.Host == "https://down.example.com:8006" {
			return &fakeClient{err: errors.New("authentication error")}, nil
		}
		return &fakeClient{}, nil
	})

	version, err := poller.TestConnection(context.Background(), config.Connection{Host: "https://up.example.com:8006"})
	require.NoError(t, err)
	assert.Equal(t, "8.2.4", version.Version)

	_, err = poller.TestConnection(context.Background(), config.Connection{Host: "https://down.example.com:8006"})
	assert.ErrorContains(t, err, "authentication error")
}

func TestPollerClientFor(t *testing.T) {
	conn := config.Connection{Name: "pve", Host: "https://pve.example.com:8006", User: "root@pam", Password: "pw"}
	store := newTestStore(t, conn)

	want := &fakeClient{host: conn.Host}
	poller := NewPoller(store, nil, time.Minute, func(config.Connection) (Client, error) {
		return want, nil
	})
	require.NoError(t, poller.Reload())

	conns, err := store.ListConnections()
	require.NoError(t, err)
	require.Len(t, conns, 1)

	got, ok := poller.ClientFor(conns[0].ID)
	require.True(t, ok)
	assert.Same(t, want, got)

	_, ok = poller.ClientFor("missing")
	assert.False(t, ok)
}
