package proxmox

import (
	"context"
	"fmt"
	"net/url"
)

// GetVersion returns the Proxmox VE version of the host. Cheap enough to
// double as a connectivity test.
func (c *Client) GetVersion(ctx context.Context) (*VersionInfo, error) {
	var resp apiResponse[VersionInfo]
	if err := c.getJSON(ctx, "/version", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// GetNodes lists all nodes known to the host.
func (c *Client) GetNodes(ctx context.Context) ([]Node, error) {
	var resp apiResponse[[]Node]
	if err := c.getJSON(ctx, "/nodes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetNodeStatus returns detailed status for a single node.
func (c *Client) GetNodeStatus(ctx context.Context, node string) (*NodeStatus, error) {
	var resp apiResponse[NodeStatus]
	if err := c.getJSON(ctx, "/nodes/"+url.PathEscape(node)+"/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// GetNodeRRDData returns RRD samples for a node. Valid timeframes are hour,
// day, week, month and year; empty defaults to hour.
func (c *Client) GetNodeRRDData(ctx context.Context, node, timeframe string) ([]RRDPoint, error) {
	params := rrdParams(timeframe)
	var resp apiResponse[[]RRDPoint]
	if err := c.getJSON(ctx, "/nodes/"+url.PathEscape(node)+"/rrddata", params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetVMs lists QEMU guests on a node.
func (c *Client) GetVMs(ctx context.Context, node string) ([]VM, error) {
	var resp apiResponse[[]VM]
	if err := c.getJSON(ctx, "/nodes/"+url.PathEscape(node)+"/qemu", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetClusterResources lists cluster-wide resources, optionally filtered by
// type ("vm", "node", "storage").
func (c *Client) GetClusterResources(ctx context.Context, resourceType string) ([]ClusterResource, error) {
	var params url.Values
	if resourceType != "" {
		params = url.Values{"type": {resourceType}}
	}
	var resp apiResponse[[]ClusterResource]
	if err := c.getJSON(ctx, "/cluster/resources", params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetVMStatus returns the current status of a QEMU guest.
func (c *Client) GetVMStatus(ctx context.Context, node string, vmid int) (*VMStatus, error) {
	var resp apiResponse[VMStatus]
	if err := c.getJSON(ctx, vmPath(node, vmid)+"/status/current", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// GetVMConfig returns the raw config of a QEMU guest.
func (c *Client) GetVMConfig(ctx context.Context, node string, vmid int) (map[string]interface{}, error) {
	var resp apiResponse[map[string]interface{}]
	if err := c.getJSON(ctx, vmPath(node, vmid)+"/config", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetVMRRDData returns RRD samples for a QEMU guest.
func (c *Client) GetVMRRDData(ctx context.Context, node string, vmid int, timeframe string) ([]RRDPoint, error) {
	params := rrdParams(timeframe)
	var resp apiResponse[[]RRDPoint]
	if err := c.getJSON(ctx, vmPath(node, vmid)+"/rrddata", params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// StartVM starts a stopped guest and returns the task UPID.
func (c *Client) StartVM(ctx context.Context, node string, vmid int) (string, error) {
	return c.postTask(ctx, vmPath(node, vmid)+"/status/start", nil)
}

// StopVM hard-stops a guest (no guest OS shutdown) and returns the task UPID.
func (c *Client) StopVM(ctx context.Context, node string, vmid int) (string, error) {
	return c.postTask(ctx, vmPath(node, vmid)+"/status/stop", nil)
}

// ShutdownVM requests a clean guest OS shutdown and returns the task UPID.
func (c *Client) ShutdownVM(ctx context.Context, node string, vmid int) (string, error) {
	return c.postTask(ctx, vmPath(node, vmid)+"/status/shutdown", nil)
}

// RebootVM requests a clean guest OS reboot and returns the task UPID.
func (c *Client) RebootVM(ctx context.Context, node string, vmid int) (string, error) {
	return c.postTask(ctx, vmPath(node, vmid)+"/status/reboot", nil)
}

// SuspendVM suspends a guest and returns the task UPID.
func (c *Client) SuspendVM(ctx context.Context, node string, vmid int) (string, error) {
	return c.postTask(ctx, vmPath(node, vmid)+"/status/suspend", nil)
}

// ResumeVM resumes a suspended guest and returns the task UPID.
func (c *Client) ResumeVM(ctx context.Context, node string, vmid int) (string, error) {
	return c.postTask(ctx, vmPath(node, vmid)+"/status/resume", nil)
}

// GetTaskStatus returns the status of a task by UPID.
func (c *Client) GetTaskStatus(ctx context.Context, node, upid string) (*TaskStatus, error) {
	var resp apiResponse[TaskStatus]
	path := "/nodes/" + url.PathEscape(node) + "/tasks/" + url.PathEscape(upid) + "/status"
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func vmPath(node string, vmid int) string {
	return fmt.Sprintf("/nodes/%s/qemu/%d", url.PathEscape(node), vmid)
}

func rrdParams(timeframe string) url.Values {
	if timeframe == "" {
		timeframe = "hour"
	}
	return url.Values{
		"timeframe": {timeframe},
		"cf":        {"AVERAGE"},
	}
}
