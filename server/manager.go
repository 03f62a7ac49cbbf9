package server

import (
	"context"
	"errors"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Options struct {
	Logger *zap.Logger
	DB     *gorm.DB
}

// Manager handles the database operations relating to Server
type Manager struct {
	Options
}

// NewManager returns a new Manager for servers
func NewManager(option Options) (*Manager, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if err := option.DB.AutoMigrate(&Server{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize server.Manager")
	}
	return &Manager{
		Options: option,
	}, nil
}

func (m *Manager) Create(ctx context.Context, srv *Server) error {
	result := m.DB.WithContext(ctx).Create(srv)
	if result.Error != nil {
		m.Logger.Error("Unable to create new server in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create server")
	}
	return nil
}

// GetByID returns nil without error when no record exists
func (m *Manager) GetByID(ctx context.Context, id string) (*Server, error) {
	srv := Server{}

	result := m.DB.WithContext(ctx).Where("id = ?", id).First(&srv)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get server by id")
	}

	return &srv, nil
}

// ListByUser returns the user's servers, newest first
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]Server, error) {
	results := make([]Server, 0, 1)
	result := m.DB.WithContext(ctx).Order("created_at desc").Find(&results, "user_id = ?", userID)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list servers")
	}
	return results, nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	result := m.DB.WithContext(ctx).Delete(&Server{}, "id = ?", id)
	if result.Error != nil {
		m.Logger.Error("Unable to delete server from database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot delete server")
	}
	return nil
}

// LambdaUpdateFunc is used when transaction is required for update. Return value determines if Manager should commit the changes.
// Note that current and desired are nil if no Server with given id was found, and must return false if that is the case
type LambdaUpdateFunc func(current *Server, desired *Server) (shouldSave bool)

// LambdaUpdate will perform a transactional update based on the lambda function. If the lambda signals shouldSave AND update was successful, it will return the new state.
// The selected Server will be locked with FOR UPDATE
func (m *Manager) LambdaUpdate(ctx context.Context, id string, lambda LambdaUpdateFunc) (*Server, error) {
	var desired Server
	var shouldReturn bool
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Server
		lookupRes := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "id = ?", id)
		if lookupRes.Error == nil {
			desired = current
			if lambda(&current, &desired) {
				// the provider instance id is immutable once set
				if current.ProviderInstanceID != "" {
					desired.ProviderInstanceID = current.ProviderInstanceID
				}
				desired.ID = current.ID
				desired.UserID = current.UserID
				if saveRes := tx.Save(&desired); saveRes.Error != nil {
					return saveRes.Error
				}
				shouldReturn = true
			}
			return nil
		} else if errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			lambda(nil, nil)
			return nil
		}
		return lookupRes.Error
	})
	if err != nil {
		m.Logger.Error("Unable to update server in database",
			zap.String("ServerID", id),
			zap.Error(err),
		)
		// transaction failed, return nil new state
		return nil, extErrors.Wrap(err, "Cannot update server")
	}
	if !shouldReturn {
		// shouldSave == false, return nil new state
		return nil, nil
	}
	// transaction succeed and shouldSave == true, return new state
	return &desired, nil
}
