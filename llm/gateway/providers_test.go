//go:build cgo
// +build cgo

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/BaSui01/agentflow/internal/vault"
	"github.com/BaSui01/agentflow/types"
)

func setupGatewayDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Provider{}, &Slot{}))
	return db
}

func testVaultForRegistry(t *testing.T) *vault.Vault {
	t.Helper()
	key, err := vault.DeriveKey("providers-registry-test-key")
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)
	return v
}

func newTestProviderRegistry(t *testing.T) *ProviderRegistry {
	t.Helper()
	return NewProviderRegistry(setupGatewayDB(t), testVaultForRegistry(t), nil, zap.NewNop())
}

func TestProviderRegistry_CreateWithPreset_FillsTypeAndBaseURL(t *testing.T) {
	reg := newTestProviderRegistry(t)
	ctx := context.Background()

	p, err := reg.Create(ctx, CreateProviderInput{
		Name:     "Kimi Main",
		Slug:     "kimi-main",
		PresetID: "kimi",
		APIKey:   "sk-test",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://api.moonshot.cn/v1", p.BaseURL)
	assert.Equal(t, ProviderTypeOpenAICompat, p.ProviderType)
	assert.NotEmpty(t, p.ID)
	assert.True(t, vault.IsEncrypted(p.APIKeyCiphertext))

	cfg, err := p.Config()
	require.NoError(t, err)
	assert.Equal(t, "kimi", cfg["preset_id"])
}

func TestProviderRegistry_CreateWithUnknownPreset_Fails(t *testing.T) {
	reg := newTestProviderRegistry(t)
	_, err := reg.Create(context.Background(), CreateProviderInput{
		Name: "Bogus", Slug: "bogus", PresetID: "does-not-exist", APIKey: "sk-x",
	})
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrInvalidPreset, gwErr.Code)
}

func TestProviderRegistry_CreateWithoutPresetRequiresBaseURLAndType(t *testing.T) {
	reg := newTestProviderRegistry(t)
	_, err := reg.Create(context.Background(), CreateProviderInput{
		Name: "Custom", Slug: "custom", APIKey: "sk-x",
	})
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrValidationError, gwErr.Code)
}

func TestProviderRegistry_DuplicateSlugConflicts(t *testing.T) {
	reg := newTestProviderRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, CreateProviderInput{Name: "A", Slug: "dup", PresetID: "kimi", APIKey: "sk-a"})
	require.NoError(t, err)

	_, err = reg.Create(ctx, CreateProviderInput{Name: "B", Slug: "dup", PresetID: "zhipu", APIKey: "sk-b"})
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrProviderSlugConflict, gwErr.Code)
}

func TestProviderRegistry_GetNotFound(t *testing.T) {
	reg := newTestProviderRegistry(t)
	_, err := reg.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrNotFound, gwErr.Code)
}

func TestProviderRegistry_UpdateReencryptsAPIKey(t *testing.T) {
	reg := newTestProviderRegistry(t)
	ctx := context.Background()

	p, err := reg.Create(ctx, CreateProviderInput{Name: "A", Slug: "a", PresetID: "kimi", APIKey: "sk-old"})
	require.NoError(t, err)
	oldCiphertext := p.APIKeyCiphertext

	newKey := "sk-new"
	updated, err := reg.Update(ctx, p.ID, UpdateProviderInput{APIKey: &newKey})
	require.NoError(t, err)
	assert.NotEqual(t, oldCiphertext, updated.APIKeyCiphertext)

	plaintext, err := reg.vault.Decrypt(updated.APIKeyCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "sk-new", plaintext)
}

func TestProviderRegistry_DeleteRejectedWhenReferenced(t *testing.T) {
	reg := newTestProviderRegistry(t)
	ctx := context.Background()

	p, err := reg.Create(ctx, CreateProviderInput{Name: "A", Slug: "a", PresetID: "kimi", APIKey: "sk-a"})
	require.NoError(t, err)

	slotReg := NewSlotRegistry(reg.db, zap.NewNop(), reg.Get)
	_, err = slotReg.Configure(ctx, ConfigureSlotInput{
		SlotType: SlotFast, PrimaryProviderID: p.ID, PrimaryModelID: "moonshot-v1-8k", IsEnabled: true,
	})
	require.NoError(t, err)

	err = reg.Delete(ctx, p.ID)
	require.Error(t, err)
	gwErr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrProviderInUse, gwErr.Code)
}

func TestProviderRegistry_ListModels_SortsByID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"zeta"},{"id":"alpha"},{"id":"mid","owned_by":"acme"}]}`))
	}))
	defer server.Close()

	reg := newTestProviderRegistry(t)
	ctx := context.Background()
	p, err := reg.Create(ctx, CreateProviderInput{
		Name: "Custom", Slug: "custom", BaseURL: server.URL, ProviderType: ProviderTypeOpenAICompat, APIKey: "sk-x",
	})
	require.NoError(t, err)

	models, err := reg.ListModels(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, models, 3)
	assert.Equal(t, "alpha", models[0].ID)
	assert.Equal(t, "mid", models[1].ID)
	assert.Equal(t, "zeta", models[2].ID)
	assert.Equal(t, "acme", models[1].OwnedBy)
}

func TestProviderRegistry_ListModels_NetworkErrorReturnsEmptyNotError(t *testing.T) {
	reg := newTestProviderRegistry(t)
	ctx := context.Background()
	p, err := reg.Create(ctx, CreateProviderInput{
		Name: "Unreachable", Slug: "unreachable", BaseURL: "http://127.0.0.1:1", ProviderType: ProviderTypeOpenAICompat, APIKey: "sk-x",
	})
	require.NoError(t, err)

	models, err := reg.ListModels(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, models)
}
