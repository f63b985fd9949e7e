package proxmox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexInt is an int64 that accepts both JSON numbers and numeric strings.
// Proxmox emits some counters either way depending on version and endpoint.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		// Some endpoints render integers as float strings ("123.0").
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*f = FlexInt(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexInt(v)
	return nil
}

func (f FlexInt) Int64() int64 { return int64(f) }

// Node is an entry from GET /nodes.
type Node struct {
	Node    string  `json:"node"`
	Status  string  `json:"status"`
	CPU     float64 `json:"cpu"`
	MaxCPU  int     `json:"maxcpu"`
	Mem     FlexInt `json:"mem"`
	MaxMem  FlexInt `json:"maxmem"`
	Disk    FlexInt `json:"disk"`
	MaxDisk FlexInt `json:"maxdisk"`
	Uptime  int64   `json:"uptime"`
	Level   string  `json:"level,omitempty"`
	ID      string  `json:"id,omitempty"`
}

// NodeStatus is the response of GET /nodes/{node}/status.
type NodeStatus struct {
	CPU        float64     `json:"cpu"`
	Memory     *MemoryInfo `json:"memory"`
	Swap       *MemoryInfo `json:"swap"`
	RootFS     *DiskInfo   `json:"rootfs"`
	LoadAvg    []string    `json:"loadavg"`
	Kversion   string      `json:"kversion"`
	PVEVersion string      `json:"pveversion"`
	CPUInfo    *CPUInfo    `json:"cpuinfo"`
	Uptime     int64       `json:"uptime"`
}

type MemoryInfo struct {
	Total FlexInt `json:"total"`
	Used  FlexInt `json:"used"`
	Free  FlexInt `json:"free"`
}

type DiskInfo struct {
	Total FlexInt `json:"total"`
	Used  FlexInt `json:"used"`
	Avail FlexInt `json:"avail"`
	Free  FlexInt `json:"free"`
}

type CPUInfo struct {
	CPUs    int    `json:"cpus"`
	Sockets int    `json:"sockets"`
	Model   string `json:"model"`
	MHz     string `json:"mhz"`
}

// VM is an entry from GET /nodes/{node}/qemu.
type VM struct {
	VMID      int     `json:"vmid"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	CPU       float64 `json:"cpu"`
	CPUs      int     `json:"cpus"`
	Mem       FlexInt `json:"mem"`
	MaxMem    FlexInt `json:"maxmem"`
	Disk      FlexInt `json:"disk"`
	MaxDisk   FlexInt `json:"maxdisk"`
	NetIn     FlexInt `json:"netin"`
	NetOut    FlexInt `json:"netout"`
	DiskRead  FlexInt `json:"diskread"`
	DiskWrite FlexInt `json:"diskwrite"`
	Uptime    int64   `json:"uptime"`
	Template  FlexInt `json:"template"`
	Tags      string  `json:"tags,omitempty"`
	Lock      string  `json:"lock,omitempty"`
}

// VMStatus is the response of GET /nodes/{node}/qemu/{vmid}/status/current.
type VMStatus struct {
	VM
	QMPStatus string  `json:"qmpstatus,omitempty"`
	PID       int     `json:"pid,omitempty"`
	Balloon   FlexInt `json:"balloon,omitempty"`
	Agent     FlexInt `json:"agent,omitempty"`
	HA        HAState `json:"ha"`
}

type HAState struct {
	Managed FlexInt `json:"managed"`
	State   string  `json:"state,omitempty"`
}

// ClusterResource is an entry from GET /cluster/resources.
type ClusterResource struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Node     string  `json:"node,omitempty"`
	VMID     int     `json:"vmid,omitempty"`
	Name     string  `json:"name,omitempty"`
	Status   string  `json:"status,omitempty"`
	CPU      float64 `json:"cpu,omitempty"`
	MaxCPU   int     `json:"maxcpu,omitempty"`
	Mem      FlexInt `json:"mem,omitempty"`
	MaxMem   FlexInt `json:"maxmem,omitempty"`
	Disk     FlexInt `json:"disk,omitempty"`
	MaxDisk  FlexInt `json:"maxdisk,omitempty"`
	Uptime   int64   `json:"uptime,omitempty"`
	Template FlexInt `json:"template,omitempty"`
	Pool     string  `json:"pool,omitempty"`
	Tags     string  `json:"tags,omitempty"`
}

// RRDPoint is one sample from a node or guest RRD endpoint. Absent fields
// stay zero; Proxmox omits columns that were not collected for the sample.
type RRDPoint struct {
	Time      int64    `json:"time"`
	CPU       *float64 `json:"cpu,omitempty"`
	MaxCPU    *float64 `json:"maxcpu,omitempty"`
	Mem       *float64 `json:"mem,omitempty"`
	MaxMem    *float64 `json:"maxmem,omitempty"`
	NetIn     *float64 `json:"netin,omitempty"`
	NetOut    *float64 `json:"netout,omitempty"`
	DiskRead  *float64 `json:"diskread,omitempty"`
	DiskWrite *float64 `json:"diskwrite,omitempty"`
	IOWait    *float64 `json:"iowait,omitempty"`
	LoadAvg   *float64 `json:"loadavg,omitempty"`
}

// TaskStatus is the response of GET /nodes/{node}/tasks/{upid}/status.
type TaskStatus struct {
	UPID       string `json:"upid"`
	Node       string `json:"node"`
	PID        int    `json:"pid"`
	Type       string `json:"type"`
	User       string `json:"user"`
	Status     string `json:"status"`
	ExitStatus string `json:"exitstatus,omitempty"`
	StartTime  int64  `json:"starttime"`
}

// Finished reports whether the task has stopped running.
func (t *TaskStatus) Finished() bool {
	return t != nil && t.Status == "stopped"
}

// Succeeded reports whether a finished task exited OK.
func (t *TaskStatus) Succeeded() bool {
	return t.Finished() && t.ExitStatus == "OK"
}

// VersionInfo is the response of GET /version.
type VersionInfo struct {
	Version string `json:"version"`
	Release string `json:"release,omitempty"`
	RepoID  string `json:"repoid,omitempty"`
}
