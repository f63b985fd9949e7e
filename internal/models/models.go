// Package models holds the state snapshot types shared between the poller,
// the websocket hub and the API handlers.
package models

// NodeSummary is a node as shown on the dashboard.
type NodeSummary struct {
	Connection string  `json:"connection"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	CPU        float64 `json:"cpu"`
	MaxCPU     int     `json:"maxCpu"`
	Mem        int64   `json:"mem"`
	MaxMem     int64   `json:"maxMem"`
	Disk       int64   `json:"disk"`
	MaxDisk    int64   `json:"maxDisk"`
	Uptime     int64   `json:"uptime"`
}

// VMSummary is a virtual machine as shown on the dashboard.
type VMSummary struct {
	Connection string  `json:"connection"`
	Node       string  `json:"node"`
	VMID       int     `json:"vmid"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	CPU        float64 `json:"cpu"`
	MaxCPU     int     `json:"maxCpu"`
	Mem        int64   `json:"mem"`
	MaxMem     int64   `json:"maxMem"`
	Disk       int64   `json:"disk"`
	MaxDisk    int64   `json:"maxDisk"`
	Uptime     int64   `json:"uptime"`
	Template   bool    `json:"template"`
	Tags       string  `json:"tags,omitempty"`
}

// ConnectionHealth reports reachability of one configured Proxmox host.
type ConnectionHealth struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Host    string `json:"host"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// StateSnapshot is the full dashboard state broadcast to websocket clients.
type StateSnapshot struct {
	Nodes       []NodeSummary      `json:"nodes"`
	VMs         []VMSummary        `json:"vms"`
	Connections []ConnectionHealth `json:"connections"`
	LastUpdate  int64              `json:"lastUpdate"`
}
