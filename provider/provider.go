// Package provider defines the contract every cloud IaaS backend implements,
// plus the provider-neutral types the rest of the system speaks.
package provider

import (
	"context"
	"time"
)

// Status is the provider-neutral state of an instance
type Status string

// Define the valid status of an instance
// provisioning -> running/stopped/failed
// running <-> stopped (via booting/shutting_down)
// running|stopped -> rebooting -> running
// * -> rebuilding -> provisioning -> running
// * -> deleting
const (
	StatusUnknown      Status = "unknown"
	StatusProvisioning Status = "provisioning"
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
	StatusBooting      Status = "booting"
	StatusRebooting    Status = "rebooting"
	StatusShuttingDown Status = "shutting_down"
	StatusRebuilding   Status = "rebuilding"
	StatusMigrating    Status = "migrating"
	StatusDeleting     Status = "deleting"
	StatusFailed       Status = "failed"
)

// Transitional reports whether the instance is between stable states
func (s Status) Transitional() bool {
	switch s {
	case StatusProvisioning, StatusBooting, StatusRebooting, StatusShuttingDown,
		StatusRebuilding, StatusMigrating, StatusDeleting:
		return true
	}
	return false
}

// PowerAction is a power operation a caller may request
type PowerAction string

// Defining constants
const (
	PowerStart  PowerAction = "start"
	PowerStop   PowerAction = "stop"
	PowerReboot PowerAction = "reboot"
)

// Valid reports whether a is a known PowerAction
func (a PowerAction) Valid() bool {
	return a == PowerStart || a == PowerStop || a == PowerReboot
}

// Specs describes the resources of an instance or plan
type Specs struct {
	Cores    int `json:"cores"`
	MemoryMB int `json:"memoryMb"`
	DiskGB   int `json:"diskGb"`
}

// Instance is a compute VM as reported by the provider
type Instance struct {
	ID      string    `json:"id"`
	Label   string    `json:"label"`
	Status  Status    `json:"status"`
	IPv4    []string  `json:"ipv4"`
	Image   string    `json:"image"`
	Region  string    `json:"region"`
	Plan    string    `json:"plan"`
	Specs   Specs     `json:"specs"`
	SSHKeys []string  `json:"sshKeys,omitempty"` // only filled by backends whose API reports installed keys
	Created time.Time `json:"created"`
}

// PrimaryIPv4 returns the first public IPv4 address, or "" if none is assigned yet
func (i *Instance) PrimaryIPv4() string {
	if i == nil || len(i.IPv4) == 0 {
		return ""
	}
	return i.IPv4[0]
}

// CreateOptions holds the parameters for creating a new instance
type CreateOptions struct {
	Label        string
	Region       string
	Image        string
	Plan         string
	RootPassword string
	SSHKeys      []string // public keys
	Tags         []string
}

// RebuildOptions holds the parameters for rebuilding an instance
type RebuildOptions struct {
	Image        string
	RootPassword string
	SSHKeys      []string
}

// StatsPoint is a single data point in a time series
type StatsPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Stats holds the recent time series reported for an instance, keyed by series name
// (e.g. "cpu", "net_in", "net_out", "io")
type Stats struct {
	Series map[string][]StatsPoint `json:"series"`
}

type Region struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Country string `json:"country"`
}

type Image struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Vendor string `json:"vendor"`
}

type Plan struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	Specs        Specs   `json:"specs"`
	PriceMonthly float64 `json:"priceMonthly"`
}

type SSHKey struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	PublicKey string `json:"publicKey"`
}

// Provider is implemented by every cloud backend. All methods block on network I/O
// and must honor ctx cancellation.
type Provider interface {
	Name() string

	CreateInstance(ctx context.Context, opts CreateOptions) (*Instance, error)
	GetInstance(ctx context.Context, id string) (*Instance, error)
	DeleteInstance(ctx context.Context, id string) error

	Boot(ctx context.Context, id string) error
	Shutdown(ctx context.Context, id string) error
	Reboot(ctx context.Context, id string) error
	Rebuild(ctx context.Context, id string, opts RebuildOptions) (*Instance, error)

	GetStats(ctx context.Context, id string) (*Stats, error)

	ListRegions(ctx context.Context) ([]Region, error)
	ListImages(ctx context.Context) ([]Image, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	ListSSHKeys(ctx context.Context) ([]SSHKey, error)
}
