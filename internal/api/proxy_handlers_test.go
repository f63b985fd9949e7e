package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratodash/strato/internal/models"
	"github.com/stratodash/strato/pkg/proxmox"
)

const testUPID = "UPID:pve1:0004F1A2:0A3B5C7D:65F0A1B2:qmstart:100:root@pam:"

func newProxyEnv(t *testing.T) (*testEnv, string) {
	t.Helper()
	fake := &fakeProxmox{
		host: "pve1.example.com",
		nodes: []proxmox.Node{
			{Node: "pve1", Status: "online", CPU: 0.1, MaxCPU: 8},
		},
		resources: []proxmox.ClusterResource{
			{Type: "qemu", Node: "pve1", VMID: 100, Name: "web", Status: "running"},
			{Type: "lxc", Node: "pve1", VMID: 200, Name: "ct"},
		},
		upid: testUPID,
	}
	env := newTestEnv(t, fake)
	env.addConnection(t, "pve1.example.com")
	token := env.login(t)
	return env, token
}

func TestNodesListFromSnapshot(t *testing.T) {
	env, token := newProxyEnv(t)

	rec := env.do(t, http.MethodGet, "/api/nodes", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var nodes []models.NodeSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "pve1", nodes[0].Name)
	assert.Equal(t, "online", nodes[0].Status)
}

func TestNodesRequireAuth(t *testing.T) {
	env, _ := newProxyEnv(t)

	rec := env.do(t, http.MethodGet, "/api/nodes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNodeStatusProxy(t *testing.T) {
	env, token := newProxyEnv(t)

	rec := env.do(t, http.MethodGet, "/api/nodes/pve1/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"uptime":4242`)
}

func TestNodeRRDProxy(t *testing.T) {
	env, token := newProxyEnv(t)

	rec := env.do(t, http.MethodGet, "/api/nodes/pve1/rrd?timeframe=day", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var points []proxmox.RRDPoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 1)
	assert.Equal(t, int64(1700000000), points[0].Time)
}

func TestUnknownNodeReturns404(t *testing.T) {
	fake := &fakeProxmox{host: "pve1.example.com"}
	env := newTestEnv(t, fake)
	token := env.login(t)

	// No connections configured at all.
	rec := env.do(t, http.MethodGet, "/api/nodes/ghost/status", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "No configured connection")
}

func TestVMListAggregated(t *testing.T) {
	env, token := newProxyEnv(t)

	rec := env.do(t, http.MethodGet, "/api/vms", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var vms []models.VMSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vms))
	require.Len(t, vms, 1, "only qemu resources are VMs")
	assert.Equal(t, 100, vms[0].VMID)
	assert.Equal(t, "web", vms[0].Name)
}

func TestVMStatusProxy(t *testing.T) {
	env, token := newProxyEnv(t)

	rec := env.do(t, http.MethodGet, "/api/vms/pve1/100", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"qmpstatus":"running"`)
}

func TestVMActionReturnsTask(t *testing.T) {
	env, token := newProxyEnv(t)

	for _, action := range []string{"start", "stop", "shutdown", "reboot", "suspend", "resume"} {
		t.Run(action, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/vms/pve1/100/"+action, token, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, testUPID, resp["task"])
		})
	}
}

func TestVMActionRejectsGet(t *testing.T) {
	env, token := newProxyEnv(t)

	rec := env.do(t, http.MethodGet, "/api/vms/pve1/100/start", token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestVMActionUnknownVerb(t *testing.T) {
	env, token := newProxyEnv(t)

	rec := env.do(t, http.MethodPost, "/api/vms/pve1/100/detonate", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown VM action")
}

func TestVMInvalidID(t *testing.T) {
	env, token := newProxyEnv(t)

	rec := env.do(t, http.MethodGet, "/api/vms/pve1/notanumber", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskStatusProxy(t *testing.T) {
	env, token := newProxyEnv(t)

	rec := env.do(t, http.MethodGet, "/api/tasks/pve1/"+testUPID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"stopped"`)
	assert.Contains(t, rec.Body.String(), `"exitstatus":"OK"`)
}

func TestTaskRejectsMalformedUPID(t *testing.T) {
	env, token := newProxyEnv(t)

	rec := env.do(t, http.MethodGet, "/api/tasks/pve1/not-a-upid", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpstreamErrorMapsToBadGateway(t *testing.T) {
	fake := &fakeProxmox{
		host:  "pve1.example.com",
		nodes: []proxmox.Node{{Node: "pve1", Status: "online"}},
	}
	env := newTestEnv(t, fake)
	env.addConnection(t, "pve1.example.com")
	token := env.login(t)

	fake.err = errors.New("API error 403: permission denied")

	rec := env.do(t, http.MethodGet, "/api/nodes/pve1/status", token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "API error 403")
}
