// Package server reconciles locally recorded servers with the cloud provider.
package server

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/miragespace/vpsdash/provider"
)

// Server is the local record of one provider instance. ProviderInstanceID is
// set at most once and is empty when provisioning never completed; IPv4 is nil
// until the provider assigns an address.
type Server struct {
	ID                 string          `json:"id" gorm:"primaryKey"`
	ProviderInstanceID string          `json:"providerInstanceId" gorm:"index"`
	UserID             string          `json:"userId" gorm:"not null;index"`
	Name               string          `json:"name" gorm:"not null"`
	Status             provider.Status `json:"status" gorm:"not null"`
	IPv4               *string         `json:"ipv4"`
	Image              string          `json:"image"`
	Region             string          `json:"region"`
	Plan               string          `json:"plan"`
	Cores              int             `json:"cores"`
	MemoryMB           int             `json:"memoryMb"`
	DiskGB             int             `json:"diskGb"`
	Metadata           Metadata        `json:"metadata" gorm:"type:text"`
	CreatedAt          time.Time       `json:"createdAt" gorm:"index"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Provisioned reports whether the record is tied to a provider instance
func (s *Server) Provisioned() bool {
	return s.ProviderInstanceID != ""
}

// Metadata is stored as a JSON document alongside the record
type Metadata struct {
	SSHKeys []string `json:"sshKeys,omitempty"`
}

func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("cannot scan %T into Metadata", src)
	}
	if len(b) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// applyInstance copies the provider's view onto the record. The provider
// instance id is only ever filled in, never replaced.
func (s *Server) applyInstance(inst *provider.Instance) {
	if s.ProviderInstanceID == "" {
		s.ProviderInstanceID = inst.ID
	}
	if inst.Status != "" {
		s.Status = inst.Status
	}
	if ip := inst.PrimaryIPv4(); ip != "" {
		s.IPv4 = &ip
	} else {
		s.IPv4 = nil
	}
	if inst.Image != "" {
		s.Image = inst.Image
	}
}
