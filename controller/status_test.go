package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/monitor"
	"github.com/modelrelay/modelrelay/relay/provider"
	relaymodel "github.com/modelrelay/modelrelay/relay/model"
)

func statusRequest(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/api/status", nil)
	Status(c)
	return w
}

func TestStatusReportsProviders(t *testing.T) {
	var calls int32
	srv := chatUpstream(t, http.StatusOK, &calls)
	installBindings(t, &provider.Config{Providers: []provider.Binding{
		{Id: "openai", Family: "openai_compatible", BaseURL: srv.URL, APIKey: "sk-a"},
	}})

	w := statusRequest(t)
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Success bool `json:"success"`
		Data    struct {
			Version   string `json:"version"`
			GoVersion string `json:"go_version"`
			UptimeSec int64  `json:"uptime_sec"`
			Providers []struct {
				Id             string `json:"id"`
				Family         string `json:"family"`
				SuspendedUntil string `json:"suspended_until"`
			} `json:"providers"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.True(t, payload.Success)
	require.NotEmpty(t, payload.Data.Version)
	require.Len(t, payload.Data.Providers, 1)
	require.Equal(t, "openai", payload.Data.Providers[0].Id)
	require.Empty(t, payload.Data.Providers[0].SuspendedUntil)
}

func TestStatusMarksSuspendedProviders(t *testing.T) {
	var calls int32
	srv := chatUpstream(t, http.StatusOK, &calls)
	installBindings(t, &provider.Config{Providers: []provider.Binding{
		{Id: "openai", Family: "openai_compatible", BaseURL: srv.URL, APIKey: "sk-a"},
	}})
	monitor.Emit(context.Background(), "openai", relaymodel.FailureRateLimited, time.Minute)

	w := statusRequest(t)
	var payload struct {
		Data struct {
			Providers []struct {
				Id             string `json:"id"`
				SuspendedUntil string `json:"suspended_until"`
			} `json:"providers"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Len(t, payload.Data.Providers, 1)
	require.NotEmpty(t, payload.Data.Providers[0].SuspendedUntil)
}
