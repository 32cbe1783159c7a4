package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Provider is a configured upstream credential + endpoint. API keys are
// always stored through the vault, never in plaintext — APIKeyCiphertext
// is opaque to every layer above internal/vault.
type Provider struct {
	ID              string `gorm:"primaryKey;size:36" json:"id"`
	Name            string `gorm:"size:200;not null" json:"name"`
	Slug            string `gorm:"size:100;not null;uniqueIndex:idx_gw_providers_slug" json:"slug"`
	PresetID        string `gorm:"size:50" json:"preset_id,omitempty"`
	ProviderType    ProviderType `gorm:"size:30;not null" json:"provider_type"`
	BaseURL         string `gorm:"size:500;not null" json:"base_url"`
	APIKeyCiphertext string `gorm:"column:api_key_ciphertext;size:1000;not null" json:"-"`
	IsEnabled       bool   `gorm:"default:true" json:"is_enabled"`
	ConfigJSON      string `gorm:"column:config;type:text" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Provider) TableName() string {
	return "gw_providers"
}

// BeforeCreate assigns a UUID primary key when the caller hasn't set one.
func (p *Provider) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// Config unmarshals the provider's free-form config blob. Absent or empty
// config decodes to an empty, non-nil map.
func (p *Provider) Config() (map[string]any, error) {
	if p.ConfigJSON == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(p.ConfigJSON), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetConfig marshals cfg into ConfigJSON for storage.
func (p *Provider) SetConfig(cfg map[string]any) error {
	if len(cfg) == 0 {
		p.ConfigJSON = ""
		return nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	p.ConfigJSON = string(b)
	return nil
}

// Slot binds a capability name to a primary (provider, model) target plus
// an ordered fallback chain. The FK on PrimaryProviderID is RESTRICT —
// deleting a Provider still referenced by a Slot is rejected at the
// registry layer before it ever reaches the database (see
// ErrProviderInUse in providers.go), so the FK constraint is strictly a
// second line of defense.
type Slot struct {
	ID                string   `gorm:"primaryKey;size:36" json:"id"`
	SlotType          SlotType `gorm:"column:slot_type;size:20;not null;uniqueIndex:idx_gw_slots_type" json:"slot_type"`
	PrimaryProviderID string   `gorm:"column:primary_provider_id;size:36;not null" json:"primary_provider_id"`
	PrimaryModelID    string   `gorm:"column:primary_model_id;size:200;not null" json:"primary_model_id"`
	FallbackChainJSON string   `gorm:"column:fallback_chain;type:text" json:"-"`
	IsEnabled         bool     `gorm:"default:true" json:"is_enabled"`
	ConfigJSON        string   `gorm:"column:config;type:text" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PrimaryProvider *Provider `gorm:"foreignKey:PrimaryProviderID;constraint:OnDelete:RESTRICT" json:"primary_provider,omitempty"`
}

func (Slot) TableName() string {
	return "gw_model_slots"
}

func (s *Slot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// FallbackChain unmarshals the slot's ordered fallback targets. An empty
// chain decodes to a nil slice — the Router treats a nil chain as "no
// fallback configured", not an error.
func (s *Slot) FallbackChain() ([]ModelRef, error) {
	if s.FallbackChainJSON == "" {
		return nil, nil
	}
	var chain []ModelRef
	if err := json.Unmarshal([]byte(s.FallbackChainJSON), &chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// SetFallbackChain marshals chain into FallbackChainJSON for storage.
func (s *Slot) SetFallbackChain(chain []ModelRef) error {
	if len(chain) == 0 {
		s.FallbackChainJSON = ""
		return nil
	}
	b, err := json.Marshal(chain)
	if err != nil {
		return err
	}
	s.FallbackChainJSON = string(b)
	return nil
}

// SetConfig marshals cfg into ConfigJSON for storage.
func (s *Slot) SetConfig(cfg map[string]any) error {
	if len(cfg) == 0 {
		s.ConfigJSON = ""
		return nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	s.ConfigJSON = string(b)
	return nil
}

// Primary returns the slot's primary target as a ModelRef.
func (s *Slot) Primary() ModelRef {
	return ModelRef{ProviderID: s.PrimaryProviderID, ModelID: s.PrimaryModelID}
}
