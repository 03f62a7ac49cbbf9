package server

import (
	"context"
	"errors"
	"testing"

	"github.com/miragespace/vpsdash/apperror"
	"github.com/miragespace/vpsdash/catalog"
	"github.com/miragespace/vpsdash/db/dbtest"
	"github.com/miragespace/vpsdash/provider"
	"github.com/miragespace/vpsdash/provider/providertest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testCatalog = catalog.New(catalog.Snapshot{
	Regions: []provider.Region{{ID: "us-east", Label: "Newark, NJ", Country: "us"}},
	Images:  []provider.Image{{ID: "linux-x", Label: "Linux X"}, {ID: "linux-y", Label: "Linux Y"}},
	Plans: []provider.Plan{{
		ID:    "small-1",
		Label: "Small",
		Specs: provider.Specs{Cores: 1, MemoryMB: 1024, DiskGB: 25},
	}},
})

type fixture struct {
	lifecycle *Lifecycle
	servers   *Manager
	fake      *providertest.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	servers, err := NewManager(Options{Logger: zap.NewNop(), DB: dbtest.New(t)})
	require.NoError(t, err)
	fake := providertest.New()
	l, err := NewLifecycle(LifecycleOptions{
		Logger:   zap.NewNop(),
		Servers:  servers,
		Provider: fake,
		Catalog:  testCatalog,
	})
	require.NoError(t, err)
	return &fixture{lifecycle: l, servers: servers, fake: fake}
}

func validCreate(user string) CreateRequest {
	return CreateRequest{
		UserID:  user,
		Name:    "web-1",
		Region:  "us-east",
		Image:   "linux-x",
		Plan:    "small-1",
		SSHKeys: []string{"ssh-ed25519 AAAA alice@laptop"},
	}
}

func (f *fixture) create(t *testing.T, user string) *Server {
	t.Helper()
	srv, err := f.lifecycle.Create(context.Background(), validCreate(user))
	require.NoError(t, err)
	return srv
}

func TestLifecycle_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srv := f.create(t, "alice")
	assert.Equal(t, "123", srv.ProviderInstanceID)
	assert.Equal(t, provider.StatusProvisioning, srv.Status)
	assert.Nil(t, srv.IPv4)
	assert.Equal(t, 1, srv.Cores)
	assert.Equal(t, 1024, srv.MemoryMB)
	assert.Equal(t, 25, srv.DiskGB)

	stored, err := f.servers.GetByID(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusProvisioning, stored.Status)
	assert.Equal(t, []string{"ssh-ed25519 AAAA alice@laptop"}, stored.Metadata.SSHKeys)

	f.fake.SetInstance(provider.Instance{ID: "123", Status: provider.StatusRunning, IPv4: []string{"1.2.3.4"}, Image: "linux-x"})
	synced, err := f.lifecycle.Sync(ctx, "alice", srv.ID)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusRunning, synced.Status)
	require.NotNil(t, synced.IPv4)
	assert.Equal(t, "1.2.3.4", *synced.IPv4)

	f.fake.AfterPower["shutdown"] = provider.StatusStopped
	stopped, err := f.lifecycle.Power(ctx, "alice", srv.ID, provider.PowerStop)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusStopped, stopped.Status)

	stored, err = f.servers.GetByID(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusStopped, stored.Status)
	assert.Equal(t, "123", stored.ProviderInstanceID)

	if diff := cmp.Diff([]string{"create", "get", "shutdown", "get"}, f.fake.Ops()); diff != "" {
		t.Errorf("provider calls mismatch (-want +got):\n%s", diff)
	}
	create := f.fake.Calls()[0].Create
	assert.Equal(t, "web-1", create.Label)
	assert.NotEmpty(t, create.RootPassword)
}

func TestLifecycle_CreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"bad hostname", func(r *CreateRequest) { r.Name = "not a host!" }},
		{"missing owner", func(r *CreateRequest) { r.UserID = "" }},
		{"unknown region", func(r *CreateRequest) { r.Region = "mars-1" }},
		{"unknown image", func(r *CreateRequest) { r.Image = "temple-os" }},
		{"unknown plan", func(r *CreateRequest) { r.Plan = "huge-9" }},
		{"no keys", func(r *CreateRequest) { r.SSHKeys = nil }},
		{"blank key", func(r *CreateRequest) { r.SSHKeys = []string{""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := validCreate("alice")
			tt.mutate(&req)
			_, err := f.lifecycle.Create(context.Background(), req)
			require.Error(t, err)
			assert.True(t, apperror.Is(err, apperror.KindValidation), err.Error())
			assert.Empty(t, f.fake.Ops())
		})
	}
}

func TestLifecycle_CreateProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.Errors["create"] = errors.New("quota exceeded")

	_, err := f.lifecycle.Create(context.Background(), validCreate("alice"))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindProvisioningFailed))
	assert.Contains(t, apperror.MessageOf(err), "quota exceeded")
	assert.Equal(t, []string{"create"}, f.fake.Ops(), "no retry")

	list, err := f.lifecycle.List(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLifecycle_OwnershipIsCheckedFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := f.create(t, "alice")
	before := len(f.fake.Calls())

	_, err := f.lifecycle.Power(ctx, "bob", srv.ID, provider.PowerStop)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
	_, err = f.lifecycle.Sync(ctx, "bob", srv.ID)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
	_, err = f.lifecycle.Rebuild(ctx, "bob", srv.ID, RebuildRequest{})
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
	_, err = f.lifecycle.Delete(ctx, "bob", srv.ID)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
	_, err = f.lifecycle.Stats(ctx, "bob", srv.ID)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
	_, err = f.lifecycle.Get(ctx, "bob", srv.ID)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	assert.Len(t, f.fake.Calls(), before, "no provider call for non-owner")
	stored, err := f.servers.GetByID(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, srv.Status, stored.Status)

	_, err = f.lifecycle.Get(ctx, "alice", "does-not-exist")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestLifecycle_NotProvisioned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.servers.Create(ctx, &Server{ID: "orphan", UserID: "alice", Name: "web-2", Status: provider.StatusFailed}))

	_, err := f.lifecycle.Power(ctx, "alice", "orphan", provider.PowerStart)
	assert.True(t, apperror.Is(err, apperror.KindNotProvisioned))
	_, err = f.lifecycle.Rebuild(ctx, "alice", "orphan", RebuildRequest{})
	assert.True(t, apperror.Is(err, apperror.KindNotProvisioned))
	_, err = f.lifecycle.Sync(ctx, "alice", "orphan")
	assert.True(t, apperror.Is(err, apperror.KindNotProvisioned))
	assert.Empty(t, f.fake.Ops())

	result, err := f.lifecycle.Delete(ctx, "alice", "orphan")
	require.NoError(t, err)
	assert.False(t, result.ProviderDeleted)
	assert.Empty(t, result.Warning)
	assert.Empty(t, f.fake.Ops(), "nothing to delete at the provider")
}

func TestLifecycle_PowerInvalidAction(t *testing.T) {
	f := newFixture(t)
	srv := f.create(t, "alice")
	_, err := f.lifecycle.Power(context.Background(), "alice", srv.ID, provider.PowerAction("explode"))
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestLifecycle_PowerStatusRefreshFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := f.create(t, "alice")
	f.fake.Errors["get"] = errors.New("timeout")

	updated, err := f.lifecycle.Power(ctx, "alice", srv.ID, provider.PowerReboot)
	require.NoError(t, err, "the action itself succeeded")
	assert.Equal(t, provider.StatusRebooting, updated.Status)
}

func TestLifecycle_PowerProviderRejects(t *testing.T) {
	f := newFixture(t)
	srv := f.create(t, "alice")
	f.fake.Errors["boot"] = provider.ErrConflict

	_, err := f.lifecycle.Power(context.Background(), "alice", srv.ID, provider.PowerStart)
	assert.True(t, apperror.Is(err, apperror.KindProvider))

	f.fake.Errors["boot"] = provider.ErrRateLimited
	_, err = f.lifecycle.Power(context.Background(), "alice", srv.ID, provider.PowerStart)
	assert.True(t, apperror.Is(err, apperror.KindRateLimited))
}

func TestLifecycle_DeleteResilience(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := f.create(t, "alice")
	f.fake.Errors["delete"] = errors.New("dial tcp: connection refused")

	result, err := f.lifecycle.Delete(ctx, "alice", srv.ID)
	require.NoError(t, err)
	assert.False(t, result.ProviderDeleted)
	assert.Contains(t, result.Warning, "connection refused")

	stored, err := f.servers.GetByID(ctx, srv.ID)
	require.NoError(t, err)
	assert.Nil(t, stored, "local record removed regardless")
}

func TestLifecycle_DeleteAlreadyGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := f.create(t, "alice")
	delete(f.fake.Instances, srv.ProviderInstanceID)

	result, err := f.lifecycle.Delete(ctx, "alice", srv.ID)
	require.NoError(t, err)
	assert.True(t, result.ProviderDeleted)
	assert.Empty(t, result.Warning)
}

func TestLifecycle_RebuildKeyPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := f.create(t, "alice")
	f.fake.Keys = []provider.SSHKey{{ID: "1", PublicKey: "account-key"}}

	f.fake.SetInstance(provider.Instance{ID: srv.ProviderInstanceID, Status: provider.StatusRunning, Image: "linux-x", SSHKeys: []string{"instance-key"}})
	_, err := f.lifecycle.Rebuild(ctx, "alice", srv.ID, RebuildRequest{})
	require.NoError(t, err)
	last := f.fake.Calls()[len(f.fake.Calls())-1]
	require.Equal(t, "rebuild", last.Op)
	assert.Equal(t, []string{"instance-key"}, last.Rebuild.SSHKeys)
	assert.NotEmpty(t, last.Rebuild.RootPassword)

	f.fake.SetInstance(provider.Instance{ID: srv.ProviderInstanceID, Status: provider.StatusRunning, Image: "linux-x"})
	_, err = f.servers.LambdaUpdate(ctx, srv.ID, func(current, desired *Server) bool {
		desired.Metadata.SSHKeys = []string{"metadata-key"}
		return true
	})
	require.NoError(t, err)
	_, err = f.lifecycle.Rebuild(ctx, "alice", srv.ID, RebuildRequest{})
	require.NoError(t, err)
	last = f.fake.Calls()[len(f.fake.Calls())-1]
	assert.Equal(t, []string{"metadata-key"}, last.Rebuild.SSHKeys)

	f.fake.SetInstance(provider.Instance{ID: srv.ProviderInstanceID, Status: provider.StatusRunning, Image: "linux-x"})
	_, err = f.servers.LambdaUpdate(ctx, srv.ID, func(current, desired *Server) bool {
		desired.Metadata.SSHKeys = nil
		return true
	})
	require.NoError(t, err)
	_, err = f.lifecycle.Rebuild(ctx, "alice", srv.ID, RebuildRequest{})
	require.NoError(t, err)
	last = f.fake.Calls()[len(f.fake.Calls())-1]
	assert.Equal(t, []string{"account-key"}, last.Rebuild.SSHKeys)
}

func TestLifecycle_RebuildWithoutKeysIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := f.create(t, "alice")
	f.fake.SetInstance(provider.Instance{ID: srv.ProviderInstanceID, Status: provider.StatusRunning})
	_, err := f.servers.LambdaUpdate(ctx, srv.ID, func(current, desired *Server) bool {
		desired.Metadata = Metadata{}
		return true
	})
	require.NoError(t, err)

	_, err = f.lifecycle.Rebuild(ctx, "alice", srv.ID, RebuildRequest{})
	assert.True(t, apperror.Is(err, apperror.KindNoCredentials))
	assert.NotContains(t, f.fake.Ops(), "rebuild")
}

func TestLifecycle_RebuildImageAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := f.create(t, "alice")

	_, err := f.lifecycle.Rebuild(ctx, "alice", srv.ID, RebuildRequest{Image: "windows"})
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	updated, err := f.lifecycle.Rebuild(ctx, "alice", srv.ID, RebuildRequest{Image: "linux-y"})
	require.NoError(t, err)
	assert.Equal(t, provider.StatusRebuilding, updated.Status)
	assert.Equal(t, "linux-y", updated.Image)

	kept, err := f.lifecycle.Rebuild(ctx, "alice", srv.ID, RebuildRequest{})
	require.NoError(t, err)
	assert.Equal(t, "linux-y", kept.Image, "current image is reused")
}

func TestLifecycle_Stats(t *testing.T) {
	f := newFixture(t)
	srv := f.create(t, "alice")

	stats, err := f.lifecycle.Stats(context.Background(), "alice", srv.ID)
	require.NoError(t, err)
	assert.Contains(t, stats.Series, "cpu")

	f.fake.Errors["stats"] = errors.New("unavailable")
	_, err = f.lifecycle.Stats(context.Background(), "alice", srv.ID)
	assert.True(t, apperror.Is(err, apperror.KindProvider))
}

func TestLifecycle_ListIsScoped(t *testing.T) {
	f := newFixture(t)
	f.create(t, "alice")
	f.create(t, "alice")
	f.create(t, "bob")

	list, err := f.lifecycle.List(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	for _, s := range list {
		assert.Equal(t, "alice", s.UserID)
	}
}

func TestManager_ProviderInstanceIDIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := f.create(t, "alice")

	updated, err := f.servers.LambdaUpdate(ctx, srv.ID, func(current, desired *Server) bool {
		desired.ProviderInstanceID = "999"
		desired.UserID = "mallory"
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, "123", updated.ProviderInstanceID)
	assert.Equal(t, "alice", updated.UserID)

	missing, err := f.servers.LambdaUpdate(ctx, "nope", func(current, desired *Server) bool {
		assert.Nil(t, current)
		return false
	})
	require.NoError(t, err)
	assert.Nil(t, missing)
}
