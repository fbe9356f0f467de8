package models

import (
	"encoding/json"
	"time"
)

// Message is the envelope for every frame on the relay socket.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// InboundMessage keeps the payload raw until the handler for Type decodes it.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// FileInfo is the metadata returned by upload and attached to transfer events.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Path       string    `json:"path"`
	MimeType   string    `json:"mimeType"`
	UploadTime time.Time `json:"uploadTime"`
}

type HealthCheck struct {
	Status          string       `json:"sys_status"`
	Version         string       `json:"version"`
	GoVersion       string       `json:"go_version"`
	Uptime          int64        `json:"uptime"`
	Connections     int          `json:"connections"`
	ActiveTransfers int          `json:"active_transfers"`
	BufferedFiles   int          `json:"buffered_files"`
	PublicEndpoint  string       `json:"public_endpoint,omitempty"`
	Host            *HostMetrics `json:"host,omitempty"`
}

type HostMetrics struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	DiskUsage   float64 `json:"disk_usage"`
	Hostname    string  `json:"hostname"`
	OS          string  `json:"os"`
	Uptime      uint64  `json:"uptime"`
}
