// Package providertest provides an in-memory provider.Provider that records every call.
package providertest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/miragespace/vpsdash/provider"
)

// Call records a single invocation against Fake
type Call struct {
	Op      string
	ID      string
	Create  *provider.CreateOptions
	Rebuild *provider.RebuildOptions
}

// Fake is a programmable provider.Provider. Set an entry in Errors keyed by op
// ("create", "get", "delete", "boot", "shutdown", "reboot", "rebuild", "stats",
// "list_ssh_keys") to make that op fail.
type Fake struct {
	mu sync.Mutex

	Instances map[string]*provider.Instance
	Keys      []provider.SSHKey
	Regions   []provider.Region
	Images    []provider.Image
	Plans     []provider.Plan
	Errors    map[string]error

	// CreateStatus is the status reported for newly created instances
	CreateStatus provider.Status
	// AfterPower, when set, is the status an instance reports after the given power op
	AfterPower map[string]provider.Status

	nextID int
	calls  []Call
}

var _ provider.Provider = &Fake{}

// New returns an empty Fake whose instance ids start at 123
func New() *Fake {
	return &Fake{
		Instances:    map[string]*provider.Instance{},
		Errors:       map[string]error{},
		AfterPower:   map[string]provider.Status{},
		CreateStatus: provider.StatusProvisioning,
		nextID:       123,
	}
}

// Calls returns a copy of the recorded calls
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Ops returns only the op names of the recorded calls
func (f *Fake) Ops() []string {
	calls := f.Calls()
	ops := make([]string, 0, len(calls))
	for _, c := range calls {
		ops = append(ops, c.Op)
	}
	return ops
}

// SetInstance places inst in the fake's state
func (f *Fake) SetInstance(inst provider.Instance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Instances[inst.ID] = &inst
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.Errors[c.Op]
}

func (f *Fake) lookup(id string) (*provider.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.Instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, provider.ErrNotFound)
	}
	clone := *inst
	return &clone, nil
}

func (f *Fake) Name() string {
	return "fake"
}

func (f *Fake) CreateInstance(ctx context.Context, opts provider.CreateOptions) (*provider.Instance, error) {
	if err := f.record(Call{Op: "create", Create: &opts}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	id := strconv.Itoa(f.nextID)
	f.nextID++
	inst := &provider.Instance{
		ID:      id,
		Label:   opts.Label,
		Status:  f.CreateStatus,
		Image:   opts.Image,
		Region:  opts.Region,
		Plan:    opts.Plan,
		SSHKeys: append([]string(nil), opts.SSHKeys...),
	}
	f.Instances[id] = inst
	f.mu.Unlock()
	clone := *inst
	return &clone, nil
}

func (f *Fake) GetInstance(ctx context.Context, id string) (*provider.Instance, error) {
	if err := f.record(Call{Op: "get", ID: id}); err != nil {
		return nil, err
	}
	return f.lookup(id)
}

func (f *Fake) DeleteInstance(ctx context.Context, id string) error {
	if err := f.record(Call{Op: "delete", ID: id}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Instances[id]; !ok {
		return fmt.Errorf("instance %s: %w", id, provider.ErrNotFound)
	}
	delete(f.Instances, id)
	return nil
}

func (f *Fake) power(op, id string) error {
	if err := f.record(Call{Op: op, ID: id}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.Instances[id]
	if !ok {
		return fmt.Errorf("instance %s: %w", id, provider.ErrNotFound)
	}
	if status, ok := f.AfterPower[op]; ok {
		inst.Status = status
	}
	return nil
}

func (f *Fake) Boot(ctx context.Context, id string) error {
	return f.power("boot", id)
}

func (f *Fake) Shutdown(ctx context.Context, id string) error {
	return f.power("shutdown", id)
}

func (f *Fake) Reboot(ctx context.Context, id string) error {
	return f.power("reboot", id)
}

func (f *Fake) Rebuild(ctx context.Context, id string, opts provider.RebuildOptions) (*provider.Instance, error) {
	if err := f.record(Call{Op: "rebuild", ID: id, Rebuild: &opts}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.Instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, provider.ErrNotFound)
	}
	inst.Image = opts.Image
	inst.Status = provider.StatusRebuilding
	inst.SSHKeys = append([]string(nil), opts.SSHKeys...)
	clone := *inst
	return &clone, nil
}

func (f *Fake) GetStats(ctx context.Context, id string) (*provider.Stats, error) {
	if err := f.record(Call{Op: "stats", ID: id}); err != nil {
		return nil, err
	}
	if _, err := f.lookup(id); err != nil {
		return nil, err
	}
	return &provider.Stats{Series: map[string][]provider.StatsPoint{"cpu": {}}}, nil
}

func (f *Fake) ListRegions(ctx context.Context) ([]provider.Region, error) {
	if err := f.record(Call{Op: "list_regions"}); err != nil {
		return nil, err
	}
	return f.Regions, nil
}

func (f *Fake) ListImages(ctx context.Context) ([]provider.Image, error) {
	if err := f.record(Call{Op: "list_images"}); err != nil {
		return nil, err
	}
	return f.Images, nil
}

func (f *Fake) ListPlans(ctx context.Context) ([]provider.Plan, error) {
	if err := f.record(Call{Op: "list_plans"}); err != nil {
		return nil, err
	}
	return f.Plans, nil
}

func (f *Fake) ListSSHKeys(ctx context.Context) ([]provider.SSHKey, error) {
	if err := f.record(Call{Op: "list_ssh_keys"}); err != nil {
		return nil, err
	}
	return f.Keys, nil
}
