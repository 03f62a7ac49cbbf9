// Package hetzner implements provider.Provider on the Hetzner Cloud API.
package hetzner

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/miragespace/vpsdash/provider"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// Name is the registry name of this backend
const Name = "hetzner"

const statsWindow = 24 * time.Hour

// Hetzner implements provider.Provider using hcloud-go
type Hetzner struct {
	client *hcloud.Client
}

var _ provider.Provider = &Hetzner{}

// New returns a Hetzner backend. Rate limit retries inside the SDK are
// disabled so every failure surfaces to the caller.
func New(cfg provider.Config) (*Hetzner, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("hetzner: empty token is invalid")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []hcloud.ClientOption{
		hcloud.WithToken(cfg.Token),
		hcloud.WithApplication("vpsdash", "1.0.0"),
		hcloud.WithHTTPClient(&http.Client{Timeout: timeout}),
		hcloud.WithRetryOpts(hcloud.RetryOpts{
			BackoffFunc: hcloud.ConstantBackoff(time.Second),
			MaxRetries:  0,
		}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, hcloud.WithEndpoint(cfg.BaseURL))
	}
	return &Hetzner{client: hcloud.NewClient(opts...)}, nil
}

// Register adds this backend to the provider registry
func Register() {
	provider.Register(Name, func(cfg provider.Config) (provider.Provider, error) {
		return New(cfg)
	})
}

func (h *Hetzner) Name() string {
	return Name
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid server ID %q: %w", id, provider.ErrNotFound)
	}
	return n, nil
}

func classify(op string, err error) error {
	switch {
	case hcloud.IsError(err, hcloud.ErrorCodeNotFound):
		return fmt.Errorf("failed to %s: %w", op, provider.ErrNotFound)
	case hcloud.IsError(err, hcloud.ErrorCodeUnauthorized), hcloud.IsError(err, hcloud.ErrorCodeForbidden):
		return fmt.Errorf("failed to %s: %w", op, provider.ErrUnauthorized)
	case hcloud.IsError(err, hcloud.ErrorCodeRateLimitExceeded):
		return fmt.Errorf("failed to %s: %w", op, provider.ErrRateLimited)
	case hcloud.IsError(err, hcloud.ErrorCodeConflict), hcloud.IsError(err, hcloud.ErrorCodeLocked):
		return fmt.Errorf("failed to %s: %w", op, provider.ErrConflict)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func toStatus(s hcloud.ServerStatus) provider.Status {
	switch s {
	case hcloud.ServerStatusInitializing:
		return provider.StatusProvisioning
	case hcloud.ServerStatusStarting:
		return provider.StatusBooting
	case hcloud.ServerStatusRunning:
		return provider.StatusRunning
	case hcloud.ServerStatusStopping:
		return provider.StatusShuttingDown
	case hcloud.ServerStatusOff:
		return provider.StatusStopped
	case hcloud.ServerStatusRebuilding:
		return provider.StatusRebuilding
	case hcloud.ServerStatusMigrating:
		return provider.StatusMigrating
	case hcloud.ServerStatusDeleting:
		return provider.StatusDeleting
	}
	return provider.StatusUnknown
}

func toSpecs(st *hcloud.ServerType) provider.Specs {
	return provider.Specs{
		Cores:    st.Cores,
		MemoryMB: int(st.Memory * 1024),
		DiskGB:   st.Disk,
	}
}

func toInstance(s *hcloud.Server) *provider.Instance {
	inst := &provider.Instance{
		ID:      strconv.FormatInt(s.ID, 10),
		Label:   s.Name,
		Status:  toStatus(s.Status),
		Created: s.Created,
		IPv4:    []string{},
	}
	if !s.PublicNet.IPv4.IsUnspecified() && s.PublicNet.IPv4.IP != nil {
		inst.IPv4 = append(inst.IPv4, s.PublicNet.IPv4.IP.String())
	}
	if s.ServerType != nil {
		inst.Plan = s.ServerType.Name
		inst.Specs = toSpecs(s.ServerType)
	}
	if s.Image != nil {
		inst.Image = s.Image.Name
	}
	if s.Location != nil {
		inst.Region = s.Location.Name
	}
	return inst
}

// cloudConfig renders a cloud-init document that installs the root password
// and authorized keys, since the API only accepts pre-registered key ids.
func cloudConfig(rootPassword string, keys []string) string {
	if rootPassword == "" && len(keys) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("#cloud-config\n")
	if rootPassword != "" {
		b.WriteString("chpasswd:\n  expire: false\n  users:\n")
		fmt.Fprintf(&b, "    - name: root\n      password: %q\n      type: text\n", rootPassword)
		b.WriteString("ssh_pwauth: true\n")
	}
	if len(keys) > 0 {
		b.WriteString("ssh_authorized_keys:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  - %q\n", strings.TrimSpace(k))
		}
	}
	return b.String()
}

func (h *Hetzner) CreateInstance(ctx context.Context, opts provider.CreateOptions) (*provider.Instance, error) {
	start := true
	createOpts := hcloud.ServerCreateOpts{
		Name:             opts.Label,
		ServerType:       &hcloud.ServerType{Name: opts.Plan},
		Image:            &hcloud.Image{Name: opts.Image},
		Location:         &hcloud.Location{Name: opts.Region},
		UserData:         cloudConfig(opts.RootPassword, opts.SSHKeys),
		StartAfterCreate: &start,
	}
	if len(opts.Tags) > 0 {
		createOpts.Labels = make(map[string]string, len(opts.Tags))
		for _, tag := range opts.Tags {
			createOpts.Labels[tag] = ""
		}
	}

	result, _, err := h.client.Server.Create(ctx, createOpts)
	if err != nil {
		return nil, classify("create server", err)
	}
	inst := toInstance(result.Server)
	inst.SSHKeys = opts.SSHKeys
	return inst, nil
}

func (h *Hetzner) GetInstance(ctx context.Context, id string) (*provider.Instance, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}
	server, _, err := h.client.Server.GetByID(ctx, n)
	if err != nil {
		return nil, classify("get server", err)
	}
	if server == nil {
		return nil, fmt.Errorf("failed to get server %s: %w", id, provider.ErrNotFound)
	}
	return toInstance(server), nil
}

func (h *Hetzner) DeleteInstance(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	if _, _, err := h.client.Server.DeleteWithResult(ctx, &hcloud.Server{ID: n}); err != nil {
		return classify("delete server", err)
	}
	return nil
}

func (h *Hetzner) action(ctx context.Context, id, op string, fn func(context.Context, *hcloud.Server) (*hcloud.Action, *hcloud.Response, error)) error {
	n, err := parseID(id)
	if err != nil {
		return err
	}
	if _, _, err := fn(ctx, &hcloud.Server{ID: n}); err != nil {
		return classify(op, err)
	}
	return nil
}

func (h *Hetzner) Boot(ctx context.Context, id string) error {
	return h.action(ctx, id, "power on server", h.client.Server.Poweron)
}

// Shutdown sends an ACPI shutdown request
func (h *Hetzner) Shutdown(ctx context.Context, id string) error {
	return h.action(ctx, id, "shut down server", h.client.Server.Shutdown)
}

func (h *Hetzner) Reboot(ctx context.Context, id string) error {
	return h.action(ctx, id, "reboot server", h.client.Server.Reboot)
}

// Rebuild reinstalls the image. The API takes no key ids on rebuild, so the
// keys and root password go in through cloud-init user data.
func (h *Hetzner) Rebuild(ctx context.Context, id string, opts provider.RebuildOptions) (*provider.Instance, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}
	server := &hcloud.Server{ID: n}
	rebuildOpts := hcloud.ServerRebuildOpts{
		Image: &hcloud.Image{Name: opts.Image},
	}
	if userData := cloudConfig(opts.RootPassword, opts.SSHKeys); userData != "" {
		rebuildOpts.UserData = hcloud.Ptr(userData)
	}
	if _, _, err := h.client.Server.RebuildWithResult(ctx, server, rebuildOpts); err != nil {
		return nil, classify("rebuild server", err)
	}

	inst := &provider.Instance{ID: id, Status: provider.StatusRebuilding, Image: opts.Image}
	if current, _, err := h.client.Server.GetByID(ctx, n); err == nil && current != nil {
		inst = toInstance(current)
		inst.Image = opts.Image
		if inst.Status != provider.StatusRebuilding && inst.Status != provider.StatusProvisioning {
			inst.Status = provider.StatusRebuilding
		}
	}
	inst.SSHKeys = opts.SSHKeys
	return inst, nil
}

// unixTime converts the API's fractional unix seconds
func unixTime(ts float64) time.Time {
	sec := int64(ts)
	return time.Unix(sec, int64((ts-float64(sec))*1e9)).UTC()
}

func (h *Hetzner) GetStats(ctx context.Context, id string) (*provider.Stats, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}
	end := time.Now().UTC()
	start := end.Add(-statsWindow)
	metrics, _, err := h.client.Server.GetMetrics(ctx, &hcloud.Server{ID: n}, hcloud.ServerGetMetricsOpts{
		Types: []hcloud.ServerMetricType{
			hcloud.ServerMetricCPU,
			hcloud.ServerMetricDisk,
			hcloud.ServerMetricNetwork,
		},
		Start: start,
		End:   end,
		Step:  int(statsWindow.Seconds() / 60),
	})
	if err != nil {
		return nil, classify("get server metrics", err)
	}

	stats := &provider.Stats{Series: map[string][]provider.StatsPoint{}}
	if metrics == nil {
		return stats, nil
	}
	for name, values := range metrics.TimeSeries {
		points := make([]provider.StatsPoint, 0, len(values))
		for _, v := range values {
			f, err := strconv.ParseFloat(v.Value, 64)
			if err != nil {
				continue
			}
			points = append(points, provider.StatsPoint{Timestamp: unixTime(v.Timestamp), Value: f})
		}
		stats.Series[name] = points
	}
	return stats, nil
}

func (h *Hetzner) ListRegions(ctx context.Context) ([]provider.Region, error) {
	locations, err := h.client.Location.All(ctx)
	if err != nil {
		return nil, classify("list locations", err)
	}
	out := make([]provider.Region, 0, len(locations))
	for _, loc := range locations {
		out = append(out, provider.Region{ID: loc.Name, Label: loc.Description, Country: loc.Country})
	}
	return out, nil
}

func (h *Hetzner) ListImages(ctx context.Context) ([]provider.Image, error) {
	images, err := h.client.Image.AllWithOpts(ctx, hcloud.ImageListOpts{
		Type:   []hcloud.ImageType{hcloud.ImageTypeSystem},
		Status: []hcloud.ImageStatus{hcloud.ImageStatusAvailable},
	})
	if err != nil {
		return nil, classify("list images", err)
	}
	out := make([]provider.Image, 0, len(images))
	for _, img := range images {
		if img.Name == "" {
			continue
		}
		out = append(out, provider.Image{ID: img.Name, Label: img.Description, Vendor: img.OSFlavor})
	}
	return out, nil
}

func (h *Hetzner) ListPlans(ctx context.Context) ([]provider.Plan, error) {
	types, err := h.client.ServerType.All(ctx)
	if err != nil {
		return nil, classify("list server types", err)
	}
	out := make([]provider.Plan, 0, len(types))
	for _, st := range types {
		plan := provider.Plan{ID: st.Name, Label: st.Description, Specs: toSpecs(st)}
		if len(st.Pricings) > 0 {
			if price, err := strconv.ParseFloat(st.Pricings[0].Monthly.Gross, 64); err == nil {
				plan.PriceMonthly = price
			}
		}
		out = append(out, plan)
	}
	return out, nil
}

func (h *Hetzner) ListSSHKeys(ctx context.Context) ([]provider.SSHKey, error) {
	keys, err := h.client.SSHKey.All(ctx)
	if err != nil {
		return nil, classify("list ssh keys", err)
	}
	out := make([]provider.SSHKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, provider.SSHKey{ID: strconv.FormatInt(k.ID, 10), Label: k.Name, PublicKey: k.PublicKey})
	}
	return out, nil
}
