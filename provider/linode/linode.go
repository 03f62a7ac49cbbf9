// Package linode implements provider.Provider on the Linode API v4.
package linode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/miragespace/vpsdash/provider"

	"github.com/linode/linodego"
)

// Name is the registry name of this backend
const Name = "linode"

// Linode implements provider.Provider using linodego
type Linode struct {
	client linodego.Client
}

var _ provider.Provider = &Linode{}

// New returns a Linode backend authenticated with cfg.Token. The SDK's internal
// retries are disabled; retrying is left to the user.
func New(cfg provider.Config) (*Linode, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("linode: empty token is invalid")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := linodego.NewClient(&http.Client{Timeout: timeout})
	client.SetToken(cfg.Token)
	client.SetUserAgent("vpsdash")
	client.SetRetryCount(0)
	if cfg.BaseURL != "" {
		client.SetBaseURL(cfg.BaseURL)
	}
	return &Linode{client: client}, nil
}

// Register adds this backend to the provider registry
func Register() {
	provider.Register(Name, func(cfg provider.Config) (provider.Provider, error) {
		return New(cfg)
	})
}

func (l *Linode) Name() string {
	return Name
}

func parseID(id string) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0, fmt.Errorf("invalid instance ID %q: %w", id, provider.ErrNotFound)
	}
	return n, nil
}

// classify maps linodego errors onto the provider sentinels
func classify(op string, err error) error {
	var apiErr *linodego.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("failed to %s: %s: %w", op, apiErr.Message, provider.ErrNotFound)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("failed to %s: %s: %w", op, apiErr.Message, provider.ErrUnauthorized)
		case http.StatusTooManyRequests:
			return fmt.Errorf("failed to %s: %s: %w", op, apiErr.Message, provider.ErrRateLimited)
		case http.StatusConflict:
			return fmt.Errorf("failed to %s: %s: %w", op, apiErr.Message, provider.ErrConflict)
		}
		return fmt.Errorf("failed to %s: %s", op, apiErr.Message)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

var statusMap = map[linodego.InstanceStatus]provider.Status{
	linodego.InstanceProvisioning: provider.StatusProvisioning,
	linodego.InstanceRunning:      provider.StatusRunning,
	linodego.InstanceOffline:      provider.StatusStopped,
	linodego.InstanceBooting:      provider.StatusBooting,
	linodego.InstanceRebooting:    provider.StatusRebooting,
	linodego.InstanceShuttingDown: provider.StatusShuttingDown,
	linodego.InstanceRebuilding:   provider.StatusRebuilding,
	linodego.InstanceMigrating:    provider.StatusMigrating,
	linodego.InstanceResizing:     provider.StatusMigrating,
	linodego.InstanceCloning:      provider.StatusProvisioning,
	linodego.InstanceRestoring:    provider.StatusRebuilding,
	linodego.InstanceDeleting:     provider.StatusDeleting,
}

func toStatus(s linodego.InstanceStatus) provider.Status {
	if status, ok := statusMap[s]; ok {
		return status
	}
	return provider.StatusUnknown
}

func toSpecs(memoryMB, diskMB, vcpus int) provider.Specs {
	return provider.Specs{
		Cores:    vcpus,
		MemoryMB: memoryMB,
		DiskGB:   diskMB / 1024,
	}
}

func toInstance(in *linodego.Instance) *provider.Instance {
	inst := &provider.Instance{
		ID:     strconv.Itoa(in.ID),
		Label:  in.Label,
		Status: toStatus(in.Status),
		Image:  in.Image,
		Region: in.Region,
		Plan:   in.Type,
		IPv4:   make([]string, 0, len(in.IPv4)),
	}
	for _, ip := range in.IPv4 {
		if ip != nil {
			inst.IPv4 = append(inst.IPv4, ip.String())
		}
	}
	if in.Specs != nil {
		inst.Specs = toSpecs(in.Specs.Memory, in.Specs.Disk, in.Specs.VCPUs)
	}
	if in.Created != nil {
		inst.Created = *in.Created
	}
	return inst
}

func (l *Linode) CreateInstance(ctx context.Context, opts provider.CreateOptions) (*provider.Instance, error) {
	booted := true
	created, err := l.client.CreateInstance(ctx, linodego.InstanceCreateOptions{
		Region:         opts.Region,
		Type:           opts.Plan,
		Label:          opts.Label,
		Image:          opts.Image,
		RootPass:       opts.RootPassword,
		AuthorizedKeys: opts.SSHKeys,
		Tags:           opts.Tags,
		Booted:         &booted,
	})
	if err != nil {
		return nil, classify("create instance", err)
	}
	return toInstance(created), nil
}

func (l *Linode) GetInstance(ctx context.Context, id string) (*provider.Instance, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}
	inst, err := l.client.GetInstance(ctx, n)
	if err != nil {
		return nil, classify("get instance", err)
	}
	return toInstance(inst), nil
}

func (l *Linode) DeleteInstance(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	if err := l.client.DeleteInstance(ctx, n); err != nil {
		return classify("delete instance", err)
	}
	return nil
}

// Boot uses the instance's default config profile
func (l *Linode) Boot(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	if err := l.client.BootInstance(ctx, n, 0); err != nil {
		return classify("boot instance", err)
	}
	return nil
}

func (l *Linode) Shutdown(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	if err := l.client.ShutdownInstance(ctx, n); err != nil {
		return classify("shut down instance", err)
	}
	return nil
}

func (l *Linode) Reboot(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	if err := l.client.RebootInstance(ctx, n, 0); err != nil {
		return classify("reboot instance", err)
	}
	return nil
}

func (l *Linode) Rebuild(ctx context.Context, id string, opts provider.RebuildOptions) (*provider.Instance, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}
	inst, err := l.client.RebuildInstance(ctx, n, linodego.InstanceRebuildOptions{
		Image:          opts.Image,
		RootPass:       opts.RootPassword,
		AuthorizedKeys: opts.SSHKeys,
	})
	if err != nil {
		return nil, classify("rebuild instance", err)
	}
	return toInstance(inst), nil
}

// toPoints converts Linode's [[unix millis, value], ...] pairs
func toPoints(raw [][]float64) []provider.StatsPoint {
	points := make([]provider.StatsPoint, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		points = append(points, provider.StatsPoint{
			Timestamp: time.UnixMilli(int64(pair[0])).UTC(),
			Value:     pair[1],
		})
	}
	return points
}

func (l *Linode) GetStats(ctx context.Context, id string) (*provider.Stats, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}
	stats, err := l.client.GetInstanceStats(ctx, n)
	if err != nil {
		return nil, classify("get instance stats", err)
	}
	return &provider.Stats{
		Series: map[string][]provider.StatsPoint{
			"cpu":     toPoints(stats.Data.CPU),
			"io":      toPoints(stats.Data.IO.IO),
			"net_in":  toPoints(stats.Data.NetV4.In),
			"net_out": toPoints(stats.Data.NetV4.Out),
		},
	}, nil
}

func (l *Linode) ListRegions(ctx context.Context) ([]provider.Region, error) {
	regions, err := l.client.ListRegions(ctx, nil)
	if err != nil {
		return nil, classify("list regions", err)
	}
	out := make([]provider.Region, 0, len(regions))
	for _, r := range regions {
		out = append(out, provider.Region{ID: r.ID, Label: r.Label, Country: r.Country})
	}
	return out, nil
}

func (l *Linode) ListImages(ctx context.Context) ([]provider.Image, error) {
	images, err := l.client.ListImages(ctx, nil)
	if err != nil {
		return nil, classify("list images", err)
	}
	out := make([]provider.Image, 0, len(images))
	for _, img := range images {
		out = append(out, provider.Image{ID: img.ID, Label: img.Label, Vendor: img.Vendor})
	}
	return out, nil
}

func (l *Linode) ListPlans(ctx context.Context) ([]provider.Plan, error) {
	types, err := l.client.ListTypes(ctx, nil)
	if err != nil {
		return nil, classify("list plans", err)
	}
	out := make([]provider.Plan, 0, len(types))
	for _, t := range types {
		plan := provider.Plan{
			ID:    t.ID,
			Label: t.Label,
			Specs: toSpecs(t.Memory, t.Disk, t.VCPUs),
		}
		if t.Price != nil {
			plan.PriceMonthly = float64(t.Price.Monthly)
		}
		out = append(out, plan)
	}
	return out, nil
}

func (l *Linode) ListSSHKeys(ctx context.Context) ([]provider.SSHKey, error) {
	keys, err := l.client.ListSSHKeys(ctx, nil)
	if err != nil {
		return nil, classify("list ssh keys", err)
	}
	out := make([]provider.SSHKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, provider.SSHKey{ID: strconv.Itoa(k.ID), Label: k.Label, PublicKey: k.SSHKey})
	}
	return out, nil
}
