package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/stratodash/strato/internal/auth"
	"github.com/stratodash/strato/internal/monitoring"
)

var errNoConnection = errors.New("no connection found for node")

// clientForNode resolves which connection owns a node. An explicit
// ?connection=<id> wins; otherwise the last poll snapshot is consulted, and
// a single-connection setup falls through to that connection.
func (rt *Router) clientForNode(r *http.Request, node string) (monitoring.Client, error) {
	if id := r.URL.Query().Get("connection"); id != "" {
		if client, ok := rt.poller.ClientFor(id); ok {
			return client, nil
		}
		return nil, errNoConnection
	}

	for _, n := range rt.poller.State().Nodes {
		if n.Name == node {
			if client, ok := rt.poller.ClientFor(n.Connection); ok {
				return client, nil
			}
		}
	}

	conns, err := rt.store.ListConnections()
	if err == nil && len(conns) == 1 {
		if client, ok := rt.poller.ClientFor(conns[0].ID); ok {
			return client, nil
		}
	}

	return nil, errNoConnection
}

// writeUpstreamError maps a Proxmox client error onto the API response.
func writeUpstreamError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeErrorResponse(w, http.StatusGatewayTimeout, "upstream_timeout", "Proxmox host did not respond in time", nil)
		return
	}
	writeErrorResponse(w, http.StatusBadGateway, "upstream_error", err.Error(), nil)
}

// pathSegments splits the remainder after a route prefix into non-empty
// segments.
func pathSegments(path, prefix string) []string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// handleNodes returns the node list from the last poll snapshot.
func (rt *Router) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}
	writeJSON(w, http.StatusOK, rt.poller.State().Nodes)
}

// handleNodeDetail proxies /api/nodes/{node}/status and /api/nodes/{node}/rrd.
func (rt *Router) handleNodeDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}

	segments := pathSegments(r.URL.Path, "/api/nodes/")
	if len(segments) != 2 {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Not found", nil)
		return
	}
	node := segments[0]

	client, err := rt.clientForNode(r, node)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "unknown_node", "No configured connection serves this node", nil)
		return
	}

	switch segments[1] {
	case "status":
		status, err := client.GetNodeStatus(r.Context(), node)
		if err != nil {
			writeUpstreamError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case "rrd":
		points, err := client.GetNodeRRDData(r.Context(), node, r.URL.Query().Get("timeframe"))
		if err != nil {
			writeUpstreamError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, points)
	default:
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Not found", nil)
	}
}

// handleVMs returns the aggregated VM list from the last poll snapshot.
func (rt *Router) handleVMs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}
	writeJSON(w, http.StatusOK, rt.poller.State().VMs)
}

// handleVMDetail serves /api/vms/{node}/{vmid}, /api/vms/{node}/{vmid}/rrd
// and POST /api/vms/{node}/{vmid}/{action}.
func (rt *Router) handleVMDetail(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/vms/")
	if len(segments) < 2 || len(segments) > 3 {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Not found", nil)
		return
	}
	node := segments[0]
	vmid, err := strconv.Atoi(segments[1])
	if err != nil || vmid <= 0 {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_vmid", "VM ID must be a positive integer", nil)
		return
	}

	client, err := rt.clientForNode(r, node)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "unknown_node", "No configured connection serves this node", nil)
		return
	}

	if len(segments) == 2 {
		if r.Method != http.MethodGet {
			writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
			return
		}
		status, err := client.GetVMStatus(r.Context(), node, vmid)
		if err != nil {
			writeUpstreamError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	switch segments[2] {
	case "rrd":
		if r.Method != http.MethodGet {
			writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
			return
		}
		points, err := client.GetVMRRDData(r.Context(), node, vmid, r.URL.Query().Get("timeframe"))
		if err != nil {
			writeUpstreamError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, points)
	default:
		rt.handleVMAction(w, r, client, node, vmid, segments[2])
	}
}

func (rt *Router) handleVMAction(w http.ResponseWriter, r *http.Request, client monitoring.Client, node string, vmid int, action string) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}

	var upid string
	var err error
	ctx := r.Context()
	switch action {
	case "start":
		upid, err = client.StartVM(ctx, node, vmid)
	case "stop":
		upid, err = client.StopVM(ctx, node, vmid)
	case "shutdown":
		upid, err = client.ShutdownVM(ctx, node, vmid)
	case "reboot":
		upid, err = client.RebootVM(ctx, node, vmid)
	case "suspend":
		upid, err = client.SuspendVM(ctx, node, vmid)
	case "resume":
		upid, err = client.ResumeVM(ctx, node, vmid)
	default:
		writeErrorResponse(w, http.StatusNotFound, "unknown_action", "Unknown VM action", nil)
		return
	}
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	LogAuditEvent("vm_"+action, auth.GetUser(r.Context()), GetClientIP(r), r.URL.Path, true, upid)
	writeJSON(w, http.StatusOK, map[string]string{"task": upid})
}

// handleTask serves /api/tasks/{node}/{upid}. UPIDs contain colons but no
// slashes, so a two-segment split is safe.
func (rt *Router) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
		return
	}

	segments := pathSegments(r.URL.Path, "/api/tasks/")
	if len(segments) != 2 {
		writeErrorResponse(w, http.StatusNotFound, "not_found", "Not found", nil)
		return
	}
	node, upid := segments[0], segments[1]
	if !strings.HasPrefix(upid, "UPID:") {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_upid", "Malformed task identifier", nil)
		return
	}

	client, err := rt.clientForNode(r, node)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "unknown_node", "No configured connection serves this node", nil)
		return
	}

	status, err := client.GetTaskStatus(r.Context(), node, upid)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
