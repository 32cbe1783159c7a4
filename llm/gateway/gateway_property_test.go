//go:build cgo
// +build cgo

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: configuring the same slot type N times in a row and then
// resolving it always reflects exactly the last Configure call — slot
// configuration is idempotent under repeated writes, never accumulating
// history or drifting toward an earlier value.
func TestSlotRegistry_ConfigureResolve_IdempotenceLaw(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 30
	properties := gopter.NewProperties(params)

	properties.Property("resolve reflects only the most recent configure", prop.ForAll(
		func(modelIDs []string) bool {
			if len(modelIDs) == 0 {
				return true
			}
			slots, providers := newTestSlotRegistry(t)
			ctx := context.Background()
			p, err := providers.Create(ctx, CreateProviderInput{Name: "A", Slug: "a", PresetID: "kimi", APIKey: "sk-a"})
			if err != nil {
				return false
			}

			var last *Slot
			for _, m := range modelIDs {
				last, err = slots.Configure(ctx, ConfigureSlotInput{
					SlotType: SlotFast, PrimaryProviderID: p.ID, PrimaryModelID: m, IsEnabled: true,
				})
				if err != nil {
					return false
				}
			}

			resolved, err := slots.Resolve(ctx, SlotFast)
			if err != nil {
				return false
			}
			if resolved.ModelID != last.PrimaryModelID {
				return false
			}

			all, err := slots.ListAll(ctx)
			if err != nil {
				return false
			}
			count := 0
			for _, s := range all {
				if s.SlotType == SlotFast {
					count++
				}
			}
			return count == 1
		},
		gen.SliceOfN(5, gen.AlphaString().SuchThat(func(s string) bool { return s != "" })),
	))

	properties.TestingRun(t)
}

// Property: the Router's FailoverTrace records attempts in the exact
// primary-then-fallback order, and UsedFallback is true iff and only if
// an attempt before the successful one failed.
func TestRouter_FailoverTrace_OrderingLaw(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 20
	properties := gopter.NewProperties(params)

	properties.Property("trace order matches attempt order and used_fallback matches trace contents", prop.ForAll(
		func(failCount int) bool {
			if failCount < 0 {
				failCount = 0
			}
			if failCount > 4 {
				failCount = 4
			}

			router, providers, slots := newTestRouter(t)
			ctx := context.Background()

			var chain []ModelRef
			var primaryID string
			var primaryModel string

			servers := make([]*httptest.Server, 0, failCount+1)
			for i := 0; i < failCount; i++ {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusInternalServerError)
				}))
				servers = append(servers, srv)
				p, err := providers.Create(ctx, CreateProviderInput{
					Name: "fail", Slug: randomSlug(i), BaseURL: srv.URL, ProviderType: ProviderTypeOpenAICompat, APIKey: "sk",
				})
				if err != nil {
					return false
				}
				if i == 0 {
					primaryID = p.ID
					primaryModel = "m0"
				} else {
					chain = append(chain, ModelRef{ProviderID: p.ID, ModelID: "m"})
				}
			}
			defer func() {
				for _, s := range servers {
					s.Close()
				}
			}()

			okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"model":"ok","choices":[{"message":{"content":"done"}}],"usage":{"total_tokens":1}}`))
			}))
			defer okSrv.Close()
			okProvider, err := providers.Create(ctx, CreateProviderInput{
				Name: "ok", Slug: randomSlug(100), BaseURL: okSrv.URL, ProviderType: ProviderTypeOpenAICompat, APIKey: "sk",
			})
			if err != nil {
				return false
			}

			if failCount == 0 {
				primaryID = okProvider.ID
				primaryModel = "m-ok"
			} else {
				chain = append(chain, ModelRef{ProviderID: okProvider.ID, ModelID: "m-ok"})
			}

			_, err = slots.Configure(ctx, ConfigureSlotInput{
				SlotType: SlotFast, PrimaryProviderID: primaryID, PrimaryModelID: primaryModel,
				FallbackChain: chain, IsEnabled: true,
			})
			if err != nil {
				return false
			}

			_, decision, err := router.Chat(ctx, SlotFast, ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
			if err != nil {
				return false
			}

			if len(decision.Trace) != failCount+1 {
				return false
			}
			for i := 0; i < failCount; i++ {
				if decision.Trace[i].Success {
					return false
				}
			}
			if !decision.Trace[len(decision.Trace)-1].Success {
				return false
			}
			return decision.UsedFallback == (failCount > 0)
		},
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}

func randomSlug(i int) string {
	return "slug-" + string(rune('a'+i%26)) + string(rune('0'+(i/26)%10))
}
