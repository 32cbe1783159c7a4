package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentflow/internal/vault"
	"github.com/BaSui01/agentflow/types"
)

// ProviderRegistry owns the lifecycle of configured upstream providers:
// create/get/list/update/delete, plus the best-effort model listing that
// talks to the live endpoint. Connectivity probing lives in Prober.
type ProviderRegistry struct {
	db     *gorm.DB
	vault  *vault.Vault
	http   *http.Client
	logger *zap.Logger
}

// NewProviderRegistry builds a registry bound to db for persistence and
// v for API key encryption. httpClient may be nil, in which case a
// 10-second-timeout client is used — matching the probe timeout of the
// original connectivity tester.
func NewProviderRegistry(db *gorm.DB, v *vault.Vault, httpClient *http.Client, logger *zap.Logger) *ProviderRegistry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ProviderRegistry{db: db, vault: v, http: httpClient, logger: logger}
}

// CreateProviderInput is the caller-supplied shape for Create. Either
// PresetID or both ProviderType and BaseURL must be given; with a
// PresetID, an explicit ProviderType or BaseURL takes precedence and the
// preset fills whichever is empty.
type CreateProviderInput struct {
	Name         string
	Slug         string
	PresetID     string
	ProviderType ProviderType
	BaseURL      string
	APIKey       string
	Config       map[string]any
}

// Create persists a new Provider, encrypting APIKey through the vault.
// When PresetID is set it auto-fills BaseURL/ProviderType from the
// built-in catalog and stamps preset_id into Config.
func (r *ProviderRegistry) Create(ctx context.Context, in CreateProviderInput) (*Provider, error) {
	cfg := in.Config
	if cfg == nil {
		cfg = map[string]any{}
	}

	providerType := in.ProviderType
	baseURL := in.BaseURL

	if in.PresetID != "" {
		preset, ok := GetPreset(in.PresetID)
		if !ok {
			return nil, types.NewError(types.ErrInvalidPreset, fmt.Sprintf("unknown preset %q", in.PresetID)).
				WithHTTPStatus(http.StatusBadRequest)
		}
		if baseURL == "" {
			baseURL = preset.BaseURL
		}
		if providerType == "" {
			providerType = preset.ProviderType
		}
		cfg["preset_id"] = in.PresetID
	} else {
		if baseURL == "" {
			return nil, types.NewError(types.ErrValidationError, "base_url is required when preset_id is not set").
				WithHTTPStatus(http.StatusUnprocessableEntity)
		}
		if providerType == "" {
			return nil, types.NewError(types.ErrValidationError, "provider_type is required when preset_id is not set").
				WithHTTPStatus(http.StatusUnprocessableEntity)
		}
	}

	var existing Provider
	err := r.db.WithContext(ctx).Where("slug = ?", in.Slug).First(&existing).Error
	if err == nil {
		return nil, types.NewError(types.ErrProviderSlugConflict, fmt.Sprintf("slug %q already in use", in.Slug)).
			WithHTTPStatus(http.StatusConflict)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check existing slug: %w", err)
	}

	ciphertext, err := r.vault.Encrypt(in.APIKey)
	if err != nil {
		return nil, types.NewError(types.ErrEncryptionError, "failed to encrypt api key").WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	p := &Provider{
		Name:             in.Name,
		Slug:             in.Slug,
		PresetID:         in.PresetID,
		ProviderType:     providerType,
		BaseURL:          baseURL,
		APIKeyCiphertext: ciphertext,
		IsEnabled:        true,
	}
	if err := p.SetConfig(cfg); err != nil {
		return nil, fmt.Errorf("encode provider config: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	r.logger.Info("provider created", zap.String("provider_id", p.ID), zap.String("slug", p.Slug))
	return p, nil
}

// Get fetches one provider by id, or types.ErrNotFound.
func (r *ProviderRegistry) Get(ctx context.Context, id string) (*Provider, error) {
	var p Provider
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("provider %q not found", id)).
				WithHTTPStatus(http.StatusNotFound)
		}
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return &p, nil
}

// List returns every configured provider, newest first.
func (r *ProviderRegistry) List(ctx context.Context) ([]Provider, error) {
	var out []Provider
	if err := r.db.WithContext(ctx).Order("created_at desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return out, nil
}

// UpdateProviderInput is the caller-supplied shape for Update. Nil/empty
// fields are left unchanged; APIKey re-encrypts only when non-empty.
type UpdateProviderInput struct {
	Name      *string
	Slug      *string
	BaseURL   *string
	APIKey    *string
	IsEnabled *bool
	Config    map[string]any
}

// Update applies a partial update to an existing provider.
func (r *ProviderRegistry) Update(ctx context.Context, id string, in UpdateProviderInput) (*Provider, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Slug != nil && *in.Slug != p.Slug {
		var existing Provider
		err := r.db.WithContext(ctx).Where("slug = ? AND id <> ?", *in.Slug, id).First(&existing).Error
		if err == nil {
			return nil, types.NewError(types.ErrProviderSlugConflict, fmt.Sprintf("slug %q already in use", *in.Slug)).
				WithHTTPStatus(http.StatusConflict)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("check existing slug: %w", err)
		}
		p.Slug = *in.Slug
	}
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.BaseURL != nil {
		p.BaseURL = *in.BaseURL
	}
	if in.IsEnabled != nil {
		p.IsEnabled = *in.IsEnabled
	}
	if in.APIKey != nil && *in.APIKey != "" {
		ciphertext, err := r.vault.Encrypt(*in.APIKey)
		if err != nil {
			return nil, types.NewError(types.ErrEncryptionError, "failed to encrypt api key").WithCause(err).
				WithHTTPStatus(http.StatusInternalServerError)
		}
		p.APIKeyCiphertext = ciphertext
	}
	if in.Config != nil {
		if err := p.SetConfig(in.Config); err != nil {
			return nil, fmt.Errorf("encode provider config: %w", err)
		}
	}

	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return nil, fmt.Errorf("update provider: %w", err)
	}
	r.logger.Info("provider updated", zap.String("provider_id", p.ID))
	return p, nil
}

// referencingSlots reports which slot types reference providerID as
// either their primary provider or anywhere in their fallback chain.
func (r *ProviderRegistry) referencingSlots(ctx context.Context, providerID string) ([]SlotType, error) {
	var slots []Slot
	if err := r.db.WithContext(ctx).Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	var referenced []SlotType
	for _, s := range slots {
		if s.PrimaryProviderID == providerID {
			referenced = append(referenced, s.SlotType)
			continue
		}
		chain, err := s.FallbackChain()
		if err != nil {
			return nil, fmt.Errorf("decode fallback chain for slot %s: %w", s.SlotType, err)
		}
		for _, ref := range chain {
			if ref.ProviderID == providerID {
				referenced = append(referenced, s.SlotType)
				break
			}
		}
	}
	return referenced, nil
}

// Delete removes a provider, rejecting the deletion with
// types.ErrProviderInUse if any slot still references it.
func (r *ProviderRegistry) Delete(ctx context.Context, id string) error {
	p, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	referenced, err := r.referencingSlots(ctx, id)
	if err != nil {
		return err
	}
	if len(referenced) > 0 {
		names := make([]string, len(referenced))
		for i, s := range referenced {
			names[i] = string(s)
		}
		return types.NewError(types.ErrProviderInUse,
			fmt.Sprintf("provider is referenced by slots: %v; remove the reference first", names)).
			WithHTTPStatus(http.StatusConflict).
			WithDetails(map[string]any{"referenced_slots": names})
	}

	if err := r.db.WithContext(ctx).Delete(p).Error; err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	r.logger.Info("provider deleted", zap.String("provider_id", id))
	return nil
}

// ListModels proxies the provider's GET /models endpoint and returns a
// normalized, id-sorted model listing. Network failures degrade to an
// empty list rather than an error, matching the original's "best effort"
// semantics — model listing is advisory, never load-bearing for routing.
func (r *ProviderRegistry) ListModels(ctx context.Context, id string) ([]UpstreamModel, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	apiKey, err := r.vault.Decrypt(p.APIKeyCiphertext)
	if err != nil {
		return nil, types.NewError(types.ErrEncryptionError, "failed to decrypt api key").WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := r.http.Do(req)
	if err != nil {
		r.logger.Warn("list models network error", zap.String("provider_id", id), zap.Error(err))
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		r.logger.Warn("list models failed", zap.String("provider_id", id), zap.Int("status", resp.StatusCode))
		return nil, nil
	}

	var body struct {
		Data []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		r.logger.Warn("decode models response failed", zap.String("provider_id", id), zap.Error(err))
		return nil, nil
	}

	models := make([]UpstreamModel, 0, len(body.Data))
	for _, m := range body.Data {
		if m.ID == "" {
			continue
		}
		models = append(models, UpstreamModel{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// drainForErrorDetail reads up to limit bytes of body for inclusion in an
// error detail.
func drainForErrorDetail(body io.Reader, limit int) string {
	buf := make([]byte, limit)
	n, _ := io.ReadFull(body, buf)
	return string(buf[:n])
}
