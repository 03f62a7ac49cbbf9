package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Observer is notified after every provider call with the operation name and its outcome
type Observer func(op string, elapsed time.Duration, err error)

// GuardOptions configures Guard
type GuardOptions struct {
	// Limiter throttles outbound calls so a burst of dashboard actions cannot exhaust
	// the account's API quota. nil disables throttling.
	Limiter *rate.Limiter
	// Timeout bounds every call. Zero means no additional bound beyond ctx.
	Timeout  time.Duration
	Observer Observer
}

type guarded struct {
	next Provider
	opts GuardOptions
}

var _ Provider = &guarded{}

// Guard wraps p so every call is throttled, bounded by a timeout and observed.
// No call is ever retried.
func Guard(p Provider, opts GuardOptions) Provider {
	return &guarded{next: p, opts: opts}
}

func (g *guarded) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}
	start := time.Now()
	err := g.wait(ctx)
	if err == nil {
		err = fn(ctx)
	}
	if g.opts.Observer != nil {
		g.opts.Observer(op, time.Since(start), err)
	}
	return err
}

func (g *guarded) wait(ctx context.Context) error {
	if g.opts.Limiter == nil {
		return nil
	}
	return g.opts.Limiter.Wait(ctx)
}

func (g *guarded) Name() string {
	return g.next.Name()
}

func (g *guarded) CreateInstance(ctx context.Context, opts CreateOptions) (inst *Instance, err error) {
	err = g.call(ctx, "create", func(ctx context.Context) error {
		inst, err = g.next.CreateInstance(ctx, opts)
		return err
	})
	return
}

func (g *guarded) GetInstance(ctx context.Context, id string) (inst *Instance, err error) {
	err = g.call(ctx, "get", func(ctx context.Context) error {
		inst, err = g.next.GetInstance(ctx, id)
		return err
	})
	return
}

func (g *guarded) DeleteInstance(ctx context.Context, id string) error {
	return g.call(ctx, "delete", func(ctx context.Context) error {
		return g.next.DeleteInstance(ctx, id)
	})
}

func (g *guarded) Boot(ctx context.Context, id string) error {
	return g.call(ctx, "boot", func(ctx context.Context) error {
		return g.next.Boot(ctx, id)
	})
}

func (g *guarded) Shutdown(ctx context.Context, id string) error {
	return g.call(ctx, "shutdown", func(ctx context.Context) error {
		return g.next.Shutdown(ctx, id)
	})
}

func (g *guarded) Reboot(ctx context.Context, id string) error {
	return g.call(ctx, "reboot", func(ctx context.Context) error {
		return g.next.Reboot(ctx, id)
	})
}

func (g *guarded) Rebuild(ctx context.Context, id string, opts RebuildOptions) (inst *Instance, err error) {
	err = g.call(ctx, "rebuild", func(ctx context.Context) error {
		inst, err = g.next.Rebuild(ctx, id, opts)
		return err
	})
	return
}

func (g *guarded) GetStats(ctx context.Context, id string) (stats *Stats, err error) {
	err = g.call(ctx, "stats", func(ctx context.Context) error {
		stats, err = g.next.GetStats(ctx, id)
		return err
	})
	return
}

func (g *guarded) ListRegions(ctx context.Context) (regions []Region, err error) {
	err = g.call(ctx, "list_regions", func(ctx context.Context) error {
		regions, err = g.next.ListRegions(ctx)
		return err
	})
	return
}

func (g *guarded) ListImages(ctx context.Context) (images []Image, err error) {
	err = g.call(ctx, "list_images", func(ctx context.Context) error {
		images, err = g.next.ListImages(ctx)
		return err
	})
	return
}

func (g *guarded) ListPlans(ctx context.Context) (plans []Plan, err error) {
	err = g.call(ctx, "list_plans", func(ctx context.Context) error {
		plans, err = g.next.ListPlans(ctx)
		return err
	})
	return
}

func (g *guarded) ListSSHKeys(ctx context.Context) (keys []SSHKey, err error) {
	err = g.call(ctx, "list_ssh_keys", func(ctx context.Context) error {
		keys, err = g.next.ListSSHKeys(ctx)
		return err
	})
	return
}
