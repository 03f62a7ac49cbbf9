package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/miragespace/vpsdash/apperror"
	"github.com/miragespace/vpsdash/catalog"
	"github.com/miragespace/vpsdash/provider"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LifecycleOptions contains the collaborators of Lifecycle
type LifecycleOptions struct {
	Logger   *zap.Logger
	Servers  *Manager
	Provider provider.Provider
	Catalog  *catalog.Catalog
}

// Lifecycle orchestrates provider calls against the local server records.
// Ownership is always checked before the provider is contacted, and no
// provider call is retried.
type Lifecycle struct {
	LifecycleOptions
	validate *validator.Validate
}

func NewLifecycle(option LifecycleOptions) (*Lifecycle, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Servers == nil {
		return nil, fmt.Errorf("nil Servers is invalid")
	}
	if option.Provider == nil {
		return nil, fmt.Errorf("nil Provider is invalid")
	}
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	return &Lifecycle{
		LifecycleOptions: option,
		validate:         validator.New(),
	}, nil
}

// CreateRequest describes a new server
type CreateRequest struct {
	UserID  string   `validate:"required"`
	Name    string   `validate:"required,hostname_rfc1123,max=64"`
	Region  string   `validate:"required"`
	Image   string   `validate:"required"`
	Plan    string   `validate:"required"`
	SSHKeys []string `validate:"required,min=1,dive,required"`
}

// DeleteResult reports a deletion. Warning is set when the local record was
// removed but the provider instance may still exist.
type DeleteResult struct {
	ID              string `json:"id"`
	ProviderDeleted bool   `json:"providerDeleted"`
	Warning         string `json:"warning,omitempty"`
}

// placeholderSecret satisfies providers that insist on a root password.
// Access is meant to happen through the SSH keys.
func placeholderSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "Vd1!" + base64.RawURLEncoding.EncodeToString(b), nil
}

func providerFailure(err error, msg string) error {
	if errors.Is(err, provider.ErrRateLimited) {
		return apperror.Wrap(apperror.KindRateLimited, err, "Provider is throttling requests, try again later")
	}
	return apperror.Provider(err, msg+": "+err.Error())
}

func validationMessage(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return "Invalid request"
	}
	fields := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		fields = append(fields, fe.Field())
	}
	return "Invalid fields: " + strings.Join(fields, ", ")
}

func (l *Lifecycle) Create(ctx context.Context, req CreateRequest) (*Server, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := l.validate.Struct(req); err != nil {
		return nil, apperror.Validation(validationMessage(err))
	}
	region, ok := l.Catalog.Region(req.Region)
	if !ok {
		return nil, apperror.Validation("Unknown region " + req.Region)
	}
	image, ok := l.Catalog.Image(req.Image)
	if !ok {
		return nil, apperror.Validation("Unknown image " + req.Image)
	}
	plan, ok := l.Catalog.Plan(req.Plan)
	if !ok {
		return nil, apperror.Validation("Unknown plan " + req.Plan)
	}

	logger := l.Logger.With(
		zap.String("UserID", req.UserID),
		zap.String("Region", region.ID),
		zap.String("Plan", plan.ID),
	)

	secret, err := placeholderSecret()
	if err != nil {
		return nil, apperror.Internal(err, "Cannot generate instance secret")
	}

	inst, err := l.Provider.CreateInstance(ctx, provider.CreateOptions{
		Label:        req.Name,
		Region:       region.ID,
		Image:        image.ID,
		Plan:         plan.ID,
		RootPassword: secret,
		SSHKeys:      req.SSHKeys,
	})
	if err != nil {
		logger.Error("Provider rejected instance creation",
			zap.Error(err),
		)
		return nil, apperror.Wrap(apperror.KindProvisioningFailed, err, "Provider could not create the server: "+err.Error())
	}

	srv := Server{
		ID:       uuid.New().String(),
		UserID:   req.UserID,
		Name:     req.Name,
		Status:   provider.StatusProvisioning,
		Image:    image.ID,
		Region:   region.ID,
		Plan:     plan.ID,
		Cores:    plan.Specs.Cores,
		MemoryMB: plan.Specs.MemoryMB,
		DiskGB:   plan.Specs.DiskGB,
		Metadata: Metadata{SSHKeys: req.SSHKeys},
	}
	srv.applyInstance(inst)

	if err := l.Servers.Create(ctx, &srv); err != nil {
		// the instance exists at the provider but we lost track of it
		logger.Error("Unable to record created instance",
			zap.String("ProviderInstanceID", inst.ID),
			zap.Error(err),
		)
		return nil, apperror.Internal(err, "Server was created but could not be saved")
	}

	logger.Info("Server created",
		zap.String("ServerID", srv.ID),
		zap.String("ProviderInstanceID", srv.ProviderInstanceID),
	)
	return &srv, nil
}

// owned re-reads the record and hides records the caller does not own
func (l *Lifecycle) owned(ctx context.Context, userID, id string) (*Server, error) {
	srv, err := l.Servers.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.Internal(err, "Cannot get server")
	}
	if srv == nil || userID == "" || srv.UserID != userID {
		return nil, apperror.NotFound("Cannot find server with specific ID")
	}
	return srv, nil
}

func (l *Lifecycle) provisioned(ctx context.Context, userID, id string) (*Server, error) {
	srv, err := l.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !srv.Provisioned() {
		return nil, apperror.New(apperror.KindNotProvisioned, "Server was never provisioned")
	}
	return srv, nil
}

func (l *Lifecycle) Get(ctx context.Context, userID, id string) (*Server, error) {
	return l.owned(ctx, userID, id)
}

func (l *Lifecycle) List(ctx context.Context, userID string) ([]Server, error) {
	results, err := l.Servers.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.Internal(err, "Cannot list servers")
	}
	return results, nil
}

func (l *Lifecycle) save(ctx context.Context, id string, mutate func(desired *Server)) (*Server, error) {
	updated, err := l.Servers.LambdaUpdate(ctx, id, func(current, desired *Server) bool {
		if current == nil {
			return false
		}
		mutate(desired)
		return true
	})
	if err != nil {
		return nil, apperror.Internal(err, "Cannot save server")
	}
	if updated == nil {
		// deleted concurrently
		return nil, apperror.NotFound("Cannot find server with specific ID")
	}
	return updated, nil
}

// Sync overwrites the local status and address with the provider's view
func (l *Lifecycle) Sync(ctx context.Context, userID, id string) (*Server, error) {
	srv, err := l.provisioned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	inst, err := l.Provider.GetInstance(ctx, srv.ProviderInstanceID)
	if err != nil {
		l.Logger.Error("Unable to fetch instance from provider",
			zap.String("ServerID", srv.ID),
			zap.String("ProviderInstanceID", srv.ProviderInstanceID),
			zap.Error(err),
		)
		return nil, providerFailure(err, "Provider could not report the server")
	}
	return l.save(ctx, srv.ID, func(desired *Server) {
		desired.applyInstance(inst)
	})
}

var pendingStatus = map[provider.PowerAction]provider.Status{
	provider.PowerStart:  provider.StatusBooting,
	provider.PowerStop:   provider.StatusShuttingDown,
	provider.PowerReboot: provider.StatusRebooting,
}

// Power issues a power action and records the status the provider reports
// afterwards. A failed status read after a successful action is only logged.
func (l *Lifecycle) Power(ctx context.Context, userID, id string, action provider.PowerAction) (*Server, error) {
	if !action.Valid() {
		return nil, apperror.Validation("Unknown action")
	}
	srv, err := l.provisioned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	logger := l.Logger.With(
		zap.String("UserID", userID),
		zap.String("ServerID", srv.ID),
		zap.String("ProviderInstanceID", srv.ProviderInstanceID),
		zap.String("Action", string(action)),
	)

	switch action {
	case provider.PowerStart:
		err = l.Provider.Boot(ctx, srv.ProviderInstanceID)
	case provider.PowerStop:
		err = l.Provider.Shutdown(ctx, srv.ProviderInstanceID)
	case provider.PowerReboot:
		err = l.Provider.Reboot(ctx, srv.ProviderInstanceID)
	}
	if err != nil {
		logger.Error("Provider rejected power action",
			zap.Error(err),
		)
		return nil, providerFailure(err, "Provider could not "+string(action)+" the server")
	}

	inst, err := l.Provider.GetInstance(ctx, srv.ProviderInstanceID)
	if err != nil {
		logger.Warn("Power action succeeded but status could not be fetched",
			zap.Error(err),
		)
		return l.save(ctx, srv.ID, func(desired *Server) {
			desired.Status = pendingStatus[action]
		})
	}
	return l.save(ctx, srv.ID, func(desired *Server) {
		desired.applyInstance(inst)
	})
}

// RebuildRequest selects the image to rebuild with. An empty Image keeps the current one.
type RebuildRequest struct {
	Image string
}

func publicKeys(keys []provider.SSHKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.PublicKey != "" {
			out = append(out, k.PublicKey)
		}
	}
	return out
}

// Rebuild reinstalls the server. SSH keys come from the instance itself, then
// the record's metadata, then the provider account; rebuilding without any
// key is refused.
func (l *Lifecycle) Rebuild(ctx context.Context, userID, id string, req RebuildRequest) (*Server, error) {
	srv, err := l.provisioned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	logger := l.Logger.With(
		zap.String("UserID", userID),
		zap.String("ServerID", srv.ID),
		zap.String("ProviderInstanceID", srv.ProviderInstanceID),
	)

	var current *provider.Instance
	if inst, err := l.Provider.GetInstance(ctx, srv.ProviderInstanceID); err != nil {
		logger.Warn("Unable to read instance before rebuild",
			zap.Error(err),
		)
	} else {
		current = inst
	}

	image := strings.TrimSpace(req.Image)
	if image != "" {
		img, ok := l.Catalog.Image(image)
		if !ok {
			return nil, apperror.Validation("Unknown image " + image)
		}
		image = img.ID
	}
	if image == "" {
		image = srv.Image
	}
	if image == "" && current != nil {
		image = current.Image
	}
	if image == "" {
		return nil, apperror.Validation("Missing image")
	}

	var keys []string
	switch {
	case current != nil && len(current.SSHKeys) > 0:
		keys = current.SSHKeys
	case len(srv.Metadata.SSHKeys) > 0:
		keys = srv.Metadata.SSHKeys
	default:
		accountKeys, err := l.Provider.ListSSHKeys(ctx)
		if err != nil {
			logger.Error("Unable to list account SSH keys",
				zap.Error(err),
			)
			return nil, providerFailure(err, "Provider could not list SSH keys")
		}
		keys = publicKeys(accountKeys)
	}
	if len(keys) == 0 {
		return nil, apperror.New(apperror.KindNoCredentials, "No SSH key available for rebuild")
	}

	secret, err := placeholderSecret()
	if err != nil {
		return nil, apperror.Internal(err, "Cannot generate instance secret")
	}
	if _, err := l.Provider.Rebuild(ctx, srv.ProviderInstanceID, provider.RebuildOptions{
		Image:        image,
		RootPassword: secret,
		SSHKeys:      keys,
	}); err != nil {
		logger.Error("Provider rejected rebuild",
			zap.Error(err),
		)
		return nil, providerFailure(err, "Provider could not rebuild the server")
	}

	logger.Info("Server rebuild started",
		zap.String("Image", image),
		zap.Int("Keys", len(keys)),
	)
	return l.save(ctx, srv.ID, func(desired *Server) {
		desired.Status = provider.StatusRebuilding
		desired.Image = image
		desired.Metadata.SSHKeys = keys
	})
}

// Delete removes the record even when the provider cannot delete the instance.
// A provider that no longer knows the instance counts as deleted.
func (l *Lifecycle) Delete(ctx context.Context, userID, id string) (*DeleteResult, error) {
	srv, err := l.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	logger := l.Logger.With(
		zap.String("UserID", userID),
		zap.String("ServerID", srv.ID),
		zap.String("ProviderInstanceID", srv.ProviderInstanceID),
	)

	result := &DeleteResult{ID: srv.ID}
	if srv.Provisioned() {
		err := l.Provider.DeleteInstance(ctx, srv.ProviderInstanceID)
		switch {
		case err == nil, errors.Is(err, provider.ErrNotFound):
			result.ProviderDeleted = true
		default:
			logger.Error("Provider failed to delete instance, removing local record anyway",
				zap.Error(err),
			)
			result.Warning = fmt.Sprintf("Instance %s may still exist at the provider and needs manual cleanup: %v",
				srv.ProviderInstanceID, err)
		}
	}

	if err := l.Servers.Delete(ctx, srv.ID); err != nil {
		return nil, apperror.Internal(err, "Cannot delete server")
	}
	return result, nil
}

// Stats returns the provider's recent metrics for the server
func (l *Lifecycle) Stats(ctx context.Context, userID, id string) (*provider.Stats, error) {
	srv, err := l.provisioned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	stats, err := l.Provider.GetStats(ctx, srv.ProviderInstanceID)
	if err != nil {
		l.Logger.Error("Unable to fetch instance stats",
			zap.String("ServerID", srv.ID),
			zap.Error(err),
		)
		return nil, providerFailure(err, "Provider could not report stats")
	}
	return stats, nil
}
