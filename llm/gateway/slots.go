package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentflow/types"
)

// SlotRegistry owns Slot configuration: binding a capability name to a
// primary (provider, model) pair plus an ordered fallback chain.
type SlotRegistry struct {
	db       *gorm.DB
	logger   *zap.Logger
	validate func(ctx context.Context, providerID string) (*Provider, error)
}

// NewSlotRegistry builds a registry bound to db. getProvider is used to
// validate that every provider referenced by a slot exists and is
// enabled; in production this is ProviderRegistry.Get.
func NewSlotRegistry(db *gorm.DB, logger *zap.Logger, getProvider func(ctx context.Context, providerID string) (*Provider, error)) *SlotRegistry {
	return &SlotRegistry{db: db, logger: logger, validate: getProvider}
}

// ConfigureSlotInput is the caller-supplied shape for Configure.
type ConfigureSlotInput struct {
	SlotType          SlotType
	PrimaryProviderID string
	PrimaryModelID    string
	FallbackChain     []ModelRef
	IsEnabled         bool
	Config            map[string]any
}

// Configure creates or replaces the configuration for slotType, after
// validating that the primary provider and every fallback-chain provider
// exist and are enabled.
func (r *SlotRegistry) Configure(ctx context.Context, in ConfigureSlotInput) (*Slot, error) {
	if !in.SlotType.Valid() {
		return nil, types.NewError(types.ErrValidationError, fmt.Sprintf("unknown slot type %q", in.SlotType)).
			WithHTTPStatus(http.StatusUnprocessableEntity)
	}

	if err := r.validateProviderRef(ctx, in.PrimaryProviderID, "primary"); err != nil {
		return nil, err
	}
	for _, ref := range in.FallbackChain {
		if err := r.validateProviderRef(ctx, ref.ProviderID, "fallback chain"); err != nil {
			return nil, err
		}
	}

	var slot Slot
	err := r.db.WithContext(ctx).Where("slot_type = ?", in.SlotType).First(&slot).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		slot = Slot{SlotType: in.SlotType}
	case err != nil:
		return nil, fmt.Errorf("lookup slot: %w", err)
	}

	slot.PrimaryProviderID = in.PrimaryProviderID
	slot.PrimaryModelID = in.PrimaryModelID
	slot.IsEnabled = in.IsEnabled
	if err := slot.SetFallbackChain(in.FallbackChain); err != nil {
		return nil, fmt.Errorf("encode fallback chain: %w", err)
	}
	if err := slot.SetConfig(in.Config); err != nil {
		return nil, fmt.Errorf("encode slot config: %w", err)
	}

	if err := r.db.WithContext(ctx).Save(&slot).Error; err != nil {
		return nil, fmt.Errorf("save slot: %w", err)
	}
	r.logger.Info("slot configured",
		zap.String("slot_type", string(slot.SlotType)),
		zap.String("primary_provider_id", slot.PrimaryProviderID),
		zap.Int("fallback_count", len(in.FallbackChain)))
	return &slot, nil
}

func (r *SlotRegistry) validateProviderRef(ctx context.Context, providerID, position string) error {
	p, err := r.validate(ctx, providerID)
	if err != nil {
		return err
	}
	if !p.IsEnabled {
		return types.NewError(types.ErrProviderUnreachable,
			fmt.Sprintf("%s provider %q is disabled", position, p.Name)).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}

// Get fetches the configuration for slotType. Returns types.ErrNotFound
// if the slot has never been configured — distinct from
// types.ErrSlotNotConfigured, which Resolve raises for a slot that was
// never configured or is disabled.
func (r *SlotRegistry) Get(ctx context.Context, slotType SlotType) (*Slot, error) {
	var slot Slot
	err := r.db.WithContext(ctx).Where("slot_type = ?", slotType).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("slot %q not configured", slotType)).
			WithHTTPStatus(http.StatusNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return &slot, nil
}

// ListAll returns one entry per SlotType in enum order, synthesizing an
// unconfigured placeholder for any slot that has never been Configure'd —
// callers always see all four capability names, never a partial list.
func (r *SlotRegistry) ListAll(ctx context.Context) ([]Slot, error) {
	var configured []Slot
	if err := r.db.WithContext(ctx).Find(&configured).Error; err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	bySlotType := make(map[SlotType]Slot, len(configured))
	for _, s := range configured {
		bySlotType[s.SlotType] = s
	}

	out := make([]Slot, 0, len(SlotTypes))
	for _, t := range SlotTypes {
		if s, ok := bySlotType[t]; ok {
			out = append(out, s)
			continue
		}
		out = append(out, Slot{SlotType: t, IsEnabled: false})
	}
	return out, nil
}

// ResolvedSlot is the summary returned by Resolve: the currently
// effective routing target for a slot.
type ResolvedSlot struct {
	SlotType      SlotType `json:"slot_type"`
	ProviderName  string   `json:"provider_name"`
	ProviderSlug  string   `json:"provider_slug"`
	ModelID       string   `json:"model_id"`
	FallbackCount int      `json:"fallback_count"`
}

// GetEnabled fetches the configuration for slotType, collapsing "never
// configured" and "configured but disabled" into the single
// types.ErrSlotNotConfigured (503) a routing invocation should raise —
// from a caller's perspective both mean the capability is unavailable
// right now. Shared by Resolve and the Router's failover walk.
func (r *SlotRegistry) GetEnabled(ctx context.Context, slotType SlotType) (*Slot, error) {
	var slot Slot
	err := r.db.WithContext(ctx).Where("slot_type = ?", slotType).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !slot.IsEnabled) {
		return nil, types.NewError(types.ErrSlotNotConfigured,
			fmt.Sprintf("slot %q is not configured or is disabled", slotType)).
			WithHTTPStatus(http.StatusServiceUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return &slot, nil
}

// Resolve returns the currently effective routing target for slotType.
func (r *SlotRegistry) Resolve(ctx context.Context, slotType SlotType) (*ResolvedSlot, error) {
	slot, err := r.GetEnabled(ctx, slotType)
	if err != nil {
		return nil, err
	}

	chain, err := slot.FallbackChain()
	if err != nil {
		return nil, fmt.Errorf("decode fallback chain: %w", err)
	}

	resolved := &ResolvedSlot{
		SlotType:      slot.SlotType,
		ModelID:       slot.PrimaryModelID,
		FallbackCount: len(chain),
	}

	if provider, err := r.validate(ctx, slot.PrimaryProviderID); err == nil {
		resolved.ProviderName = provider.Name
		resolved.ProviderSlug = provider.Slug
	}
	return resolved, nil
}
