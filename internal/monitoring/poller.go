// Package monitoring polls configured Proxmox hosts and keeps the live
// dashboard state up to date.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/stratodash/strato/internal/config"
	"github.com/stratodash/strato/internal/models"
	"github.com/stratodash/strato/pkg/proxmox"
)

// maxConcurrentPolls bounds how many hosts are polled at once.
const maxConcurrentPolls = 4

// Client is the Proxmox API surface used by the poller and the proxy
// handlers. *proxmox.Client satisfies it.
type Client interface {
	GetVersion(ctx context.Context) (*proxmox.VersionInfo, error)
	GetNodes(ctx context.Context) ([]proxmox.Node, error)
	GetNodeStatus(ctx context.Context, node string) (*proxmox.NodeStatus, error)
	GetNodeRRDData(ctx context.Context, node, timeframe string) ([]proxmox.RRDPoint, error)
	GetClusterResources(ctx context.Context, kind string) ([]proxmox.ClusterResource, error)
	GetVMStatus(ctx context.Context, node string, vmid int) (*proxmox.VMStatus, error)
	GetVMRRDData(ctx context.Context, node string, vmid int, timeframe string) ([]proxmox.RRDPoint, error)
	StartVM(ctx context.Context, node string, vmid int) (string, error)
	StopVM(ctx context.Context, node string, vmid int) (string, error)
	ShutdownVM(ctx context.Context, node string, vmid int) (string, error)
	RebootVM(ctx context.Context, node string, vmid int) (string, error)
	SuspendVM(ctx context.Context, node string, vmid int) (string, error)
	ResumeVM(ctx context.Context, node string, vmid int) (string, error)
	GetTaskStatus(ctx context.Context, node, upid string) (*proxmox.TaskStatus, error)
	Host() string
}

// ClientFactory builds an API client for a stored connection.
type ClientFactory func(conn config.Connection) (Client, error)

// DefaultClientFactory builds real Proxmox clients.
func DefaultClientFactory(timeout time.Duration) ClientFactory {
	return func(conn config.Connection) (Client, error) {
		return proxmox.NewClient(proxmox.ClientConfig{
			Host:        conn.Host,
			User:        conn.User,
			Password:    conn.Password,
			TokenName:   conn.TokenName,
			TokenValue:  conn.TokenValue,
			Fingerprint: conn.Fingerprint,
			VerifySSL:   conn.VerifySSL,
			Timeout:     timeout,
		})
	}
}

// Broadcaster receives state snapshots after each poll cycle.
type Broadcaster interface {
	BroadcastState(state interface{})
}

type pollTarget struct {
	conn    config.Connection
	client  Client
	initErr error
}

// Poller periodically fetches node and VM data from every configured
// connection and merges the results into a single snapshot.
type Poller struct {
	store    *config.Store
	hub      Broadcaster
	factory  ClientFactory
	interval time.Duration

	mu       sync.RWMutex
	targets  []pollTarget
	limiters map[string]*rate.Limiter
	state    models.StateSnapshot
}

// NewPoller creates a poller. Reload must be called (or Start, which calls
// it) before State returns anything useful.
func NewPoller(store *config.Store, hub Broadcaster, interval time.Duration, factory ClientFactory) *Poller {
	return &Poller{
		store:    store,
		hub:      hub,
		factory:  factory,
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Reload rebuilds API clients from the connection store. Called at startup
// and whenever connections change.
func (p *Poller) Reload() error {
	conns, err := p.store.ListConnections()
	if err != nil {
		return err
	}

	targets := make([]pollTarget, 0, len(conns))
	for _, conn := range conns {
		client, err := p.factory(conn)
		if err != nil {
			log.Warn().Err(err).Str("connection", conn.Name).Msg("Failed to build API client")
		}
		targets = append(targets, pollTarget{conn: conn, client: client, initErr: err})
	}

	p.mu.Lock()
	p.targets = targets
	p.mu.Unlock()

	log.Info().Int("connections", len(targets)).Msg("Poller connections reloaded")
	return nil
}

// limiterFor returns the per-host rate limiter, creating it on first use.
// One request per second with a small burst keeps re-auth storms from
// hammering a struggling host.
func (p *Poller) limiterFor(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	lim, ok := p.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 4)
		p.limiters[host] = lim
	}
	return lim
}

// Start runs the poll loop until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	if err := p.Reload(); err != nil {
		log.Error().Err(err).Msg("Initial connection load failed")
	}
	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

type connResult struct {
	health models.ConnectionHealth
	nodes  []models.NodeSummary
	vms    []models.VMSummary
}

// Poll fetches data from every connection once and broadcasts the merged
// snapshot.
func (p *Poller) Poll(ctx context.Context) {
	p.mu.RLock()
	targets := make([]pollTarget, len(p.targets))
	copy(targets, p.targets)
	p.mu.RUnlock()

	results := make([]connResult, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPolls)
	for i, target := range targets {
		g.Go(func() error {
			results[i] = p.pollOne(gctx, target)
			return nil
		})
	}
	g.Wait()

	snapshot := models.StateSnapshot{
		Nodes:       []models.NodeSummary{},
		VMs:         []models.VMSummary{},
		Connections: []models.ConnectionHealth{},
		LastUpdate:  time.Now().Unix(),
	}
	for _, res := range results {
		snapshot.Connections = append(snapshot.Connections, res.health)
		snapshot.Nodes = append(snapshot.Nodes, res.nodes...)
		snapshot.VMs = append(snapshot.VMs, res.vms...)
	}

	p.mu.Lock()
	p.state = snapshot
	p.mu.Unlock()

	if p.hub != nil {
		p.hub.BroadcastState(snapshot)
	}
}

func (p *Poller) pollOne(ctx context.Context, target pollTarget) connResult {
	res := connResult{
		health: models.ConnectionHealth{
			ID:   target.conn.ID,
			Name: target.conn.Name,
			Host: target.conn.Host,
		},
	}
	if target.initErr != nil {
		res.health.Error = target.initErr.Error()
		return res
	}

	if err := p.limiterFor(target.conn.Host).Wait(ctx); err != nil {
		res.health.Error = err.Error()
		return res
	}

	nodes, err := target.client.GetNodes(ctx)
	if err != nil {
		log.Warn().Err(err).Str("connection", target.conn.Name).Msg("Node poll failed")
		res.health.Error = err.Error()
		return res
	}

	resources, err := target.client.GetClusterResources(ctx, "vm")
	if err != nil {
		log.Warn().Err(err).Str("connection", target.conn.Name).Msg("Resource poll failed")
		res.health.Error = err.Error()
		return res
	}

	res.health.Healthy = true
	res.nodes = make([]models.NodeSummary, 0, len(nodes))
	for _, n := range nodes {
		res.nodes = append(res.nodes, models.NodeSummary{
			Connection: target.conn.ID,
			Name:       n.Node,
			Status:     n.Status,
			CPU:        n.CPU,
			MaxCPU:     n.MaxCPU,
			Mem:        n.Mem.Int64(),
			MaxMem:     n.MaxMem.Int64(),
			Disk:       n.Disk.Int64(),
			MaxDisk:    n.MaxDisk.Int64(),
			Uptime:     n.Uptime,
		})
	}

	res.vms = make([]models.VMSummary, 0, len(resources))
	for _, r := range resources {
		if r.Type != "qemu" {
			continue
		}
		res.vms = append(res.vms, models.VMSummary{
			Connection: target.conn.ID,
			Node:       r.Node,
			VMID:       r.VMID,
			Name:       r.Name,
			Status:     r.Status,
			CPU:        r.CPU,
			MaxCPU:     r.MaxCPU,
			Mem:        r.Mem.Int64(),
			MaxMem:     r.MaxMem.Int64(),
			Disk:       r.Disk.Int64(),
			MaxDisk:    r.MaxDisk.Int64(),
			Uptime:     r.Uptime,
			Template:   r.Template == 1,
			Tags:       r.Tags,
		})
	}
	return res
}

// State returns the last merged snapshot.
func (p *Poller) State() models.StateSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// TestConnection builds a throwaway client for the given record and checks
// that the API answers. Used by the settings test endpoint before saving.
func (p *Poller) TestConnection(ctx context.Context, conn config.Connection) (*proxmox.VersionInfo, error) {
	client, err := p.factory(conn)
	if err != nil {
		return nil, err
	}
	return client.GetVersion(ctx)
}

// ClientFor returns the live API client for a stored connection, used by
// API handlers that proxy on-demand requests.
func (p *Poller) ClientFor(id string) (Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, target := range p.targets {
		if target.conn.ID == id && target.initErr == nil {
			return target.client, true
		}
	}
	return nil, false
}
