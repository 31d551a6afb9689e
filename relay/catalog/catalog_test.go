package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/modelrelay/modelrelay/common/client"
	"github.com/modelrelay/modelrelay/relay/provider"
)

func TestMain(m *testing.M) {
	client.Init()
	os.Exit(m.Run())
}

func installProviders(bindings ...provider.Binding) {
	provider.InstallConfig(context.Background(), &provider.Config{Providers: bindings})
	ResetAll()
}

func openAIListingServer(hits *atomic.Int64, entries ...map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": entries})
	}))
}

func TestCatalogFetchAndResolve(t *testing.T) {
	ctx := context.Background()

	Convey("an openai-style provider", t, func() {
		var hits atomic.Int64
		srv := openAIListingServer(&hits,
			map[string]string{"id": "gpt-4o", "owned_by": "openai"},
			map[string]string{"id": "gpt-4o-mini", "owned_by": "system"},
		)
		defer srv.Close()

		installProviders(provider.Binding{
			Id: "openai", Family: "openai", BaseURL: srv.URL, APIKey: "sk-upstream",
		})
		b, _ := provider.Get("openai")

		Convey("fetches and normalizes the listing", func() {
			snap := SnapshotFor(ctx, b)
			So(snap.Fallback, ShouldBeFalse)
			So(len(snap.Models), ShouldEqual, 2)
			// Sorted by id.
			So(snap.Models[0].Id, ShouldEqual, "gpt-4o")
			So(snap.Models[1].Id, ShouldEqual, "gpt-4o-mini")

			m, ok := snap.Lookup("gpt-4o")
			So(ok, ShouldBeTrue)
			So(m.ProviderId, ShouldEqual, "openai")
			So(m.InputUSDPerMTok, ShouldBeGreaterThan, 0)
			So(m.ContextWindow, ShouldBeGreaterThan, 0)
		})

		Convey("serves fresh data without refetching", func() {
			SnapshotFor(ctx, b)
			before := hits.Load()
			SnapshotFor(ctx, b)
			SnapshotFor(ctx, b)
			So(hits.Load(), ShouldEqual, before)
		})

		Convey("resolves a model to its provider", func() {
			id, ok := ResolveProvider(ctx, "gpt-4o")
			So(ok, ShouldBeTrue)
			So(id, ShouldEqual, "openai")

			_, ok = ResolveProvider(ctx, "no-such-model")
			So(ok, ShouldBeFalse)
		})

		Convey("an explicit routing prefix wins resolution", func() {
			id, ok := ResolveProvider(ctx, "openai/gpt-4o")
			So(ok, ShouldBeTrue)
			So(id, ShouldEqual, "openai")
		})
	})
}

func TestCatalogPricing(t *testing.T) {
	ctx := context.Background()

	Convey("pricing never fails", t, func() {
		srv := openAIListingServer(nil, map[string]string{"id": "gpt-4o"})
		defer srv.Close()
		installProviders(provider.Binding{
			Id: "openai", Family: "openai", BaseURL: srv.URL, APIKey: "sk-upstream",
		})

		Convey("a listed model freezes its table prices", func() {
			snap := Price(ctx, "gpt-4o", "openai")
			So(snap.InputUSDPerMTok, ShouldBeGreaterThan, 0)
			So(snap.OutputUSDPerMTok, ShouldBeGreaterThan, 0)
			So(snap.IsFree(), ShouldBeFalse)
		})

		Convey("an unknown model is free, not an error", func() {
			snap := Price(ctx, "completely-unknown", "openai")
			So(snap, ShouldNotBeNil)
			So(snap.IsFree(), ShouldBeTrue)
		})

		Convey("a routing prefix is stripped before pricing", func() {
			snap := Price(ctx, "openai/gpt-4o", "openai")
			So(snap.ModelId, ShouldEqual, "gpt-4o")
			So(snap.IsFree(), ShouldBeFalse)
		})
	})
}

func TestCatalogFallback(t *testing.T) {
	ctx := context.Background()

	Convey("a provider whose listing endpoint is down", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
		}))
		defer srv.Close()

		installProviders(provider.Binding{
			Id: "flaky", Family: "openai", BaseURL: srv.URL, APIKey: "sk-upstream",
			FallbackModels: []string{"gpt-4o", "gpt-4o-mini"},
		})
		b, _ := provider.Get("flaky")

		Convey("serves the configured fallback list", func() {
			snap := SnapshotFor(ctx, b)
			So(snap.Fallback, ShouldBeTrue)
			So(len(snap.Models), ShouldEqual, 2)
			_, ok := snap.Lookup("gpt-4o")
			So(ok, ShouldBeTrue)
		})

		Convey("fallback snapshots never count as fresh", func() {
			snap := SnapshotFor(ctx, b)
			So(snap.Age(time.Now()), ShouldBeGreaterThan, ttlStale(b))
		})
	})
}

func TestCatalogListingFilters(t *testing.T) {
	ctx := context.Background()

	Convey("listing with filters", t, func() {
		public := openAIListingServer(nil,
			map[string]string{"id": "gpt-4o"},
			map[string]string{"id": "gpt-4o-mini"},
		)
		defer public.Close()
		private := openAIListingServer(nil, map[string]string{"id": "internal-model"})
		defer private.Close()

		installProviders(
			provider.Binding{Id: "openai", Family: "openai", BaseURL: public.URL, APIKey: "k"},
			provider.Binding{Id: "internal", Family: "openai", BaseURL: private.URL, APIKey: "k", Private: true},
		)

		Convey("private providers are hidden by default", func() {
			models := ListModels(ctx, Filter{})
			for _, m := range models {
				So(m.ProviderId, ShouldEqual, "openai")
			}
			So(len(models), ShouldEqual, 2)
		})

		Convey("naming the provider reveals its models", func() {
			models := ListModels(ctx, Filter{Provider: "internal"})
			So(len(models), ShouldEqual, 1)
			So(models[0].Id, ShouldEqual, "internal-model")
			So(models[0].Private, ShouldBeTrue)
		})

		Convey("price ceiling filters priced models", func() {
			models := ListModels(ctx, Filter{MaxPriceUSDPerMTok: 0.001})
			for _, m := range models {
				So(m.InputUSDPerMTok, ShouldBeLessThanOrEqualTo, 0.001)
			}
		})

		Convey("context floor filters small models", func() {
			models := ListModels(ctx, Filter{MinContext: 1 << 30})
			So(len(models), ShouldEqual, 0)
		})
	})
}

func TestGatewaySourceTagging(t *testing.T) {
	ctx := context.Background()

	Convey("a gateway-style upstream", t, func() {
		srv := openAIListingServer(nil,
			map[string]string{"id": "deepseek-chat", "owned_by": "deepseek"},
			map[string]string{"id": "gpt-4o", "owned_by": "openai"},
		)
		defer srv.Close()

		installProviders(provider.Binding{
			Id: "gateway", Family: "openai_compatible", BaseURL: srv.URL, APIKey: "k",
		})

		Convey("tags proxied models with their source vendor", func() {
			m, ok := GetModel(ctx, "deepseek-chat", "gateway")
			So(ok, ShouldBeTrue)
			So(m.SourceGateway, ShouldEqual, "deepseek")

			native, ok := GetModel(ctx, "gpt-4o", "gateway")
			So(ok, ShouldBeTrue)
			So(native.SourceGateway, ShouldEqual, "")
		})
	})
}

func TestAnthropicFetcher(t *testing.T) {
	ctx := context.Background()

	Convey("the anthropic fetcher", t, func() {
		var gotKey, gotVersion string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.Header.Get("x-api-key")
			gotVersion = r.Header.Get("anthropic-version")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]string{
					{"id": "claude-sonnet-4-20250514", "display_name": "Claude Sonnet 4"},
				},
			})
		}))
		defer srv.Close()

		installProviders(provider.Binding{
			Id: "anthropic", Family: "anthropic", BaseURL: srv.URL, APIKey: "sk-ant",
		})
		b, _ := provider.Get("anthropic")

		Convey("authenticates with the native headers", func() {
			snap := SnapshotFor(ctx, b)
			So(gotKey, ShouldEqual, "sk-ant")
			So(gotVersion, ShouldEqual, anthropicVersion)
			m, ok := snap.Lookup("claude-sonnet-4-20250514")
			So(ok, ShouldBeTrue)
			So(m.DisplayName, ShouldEqual, "Claude Sonnet 4")
		})
	})
}

func TestGeminiFetcher(t *testing.T) {
	ctx := context.Background()

	Convey("the gemini fetcher", t, func() {
		var gotKey string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.URL.Query().Get("key")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]any{
					{
						"name":                       "models/gemini-2.0-flash",
						"displayName":                "Gemini 2.0 Flash",
						"inputTokenLimit":            1048576,
						"outputTokenLimit":           8192,
						"supportedGenerationMethods": []string{"generateContent", "countTokens"},
					},
					{
						"name":                       "models/text-embedding-004",
						"supportedGenerationMethods": []string{"embedContent"},
					},
				},
			})
		}))
		defer srv.Close()

		installProviders(provider.Binding{
			Id: "gemini", Family: "gemini", BaseURL: srv.URL, APIKey: "g-key",
		})
		b, _ := provider.Get("gemini")

		Convey("keeps only generation models, with listing limits", func() {
			snap := SnapshotFor(ctx, b)
			So(gotKey, ShouldEqual, "g-key")
			So(len(snap.Models), ShouldEqual, 1)

			m, ok := snap.Lookup("gemini-2.0-flash")
			So(ok, ShouldBeTrue)
			So(m.ContextWindow, ShouldEqual, 1048576)
			So(m.MaxOutputTokens, ShouldEqual, 8192)
		})
	})
}
