package meta

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/ctxkey"
	"github.com/modelrelay/modelrelay/relay/pricing"
	"github.com/modelrelay/modelrelay/relay/provider"
	"github.com/modelrelay/modelrelay/relay/relaymode"
)

// Meta carries everything the relay pipeline knows about one request.
// Admission fills the principal and model fields; ApplyBinding fills the
// provider fields once per failover attempt.
type Meta struct {
	Mode    int
	ApiType int

	PrincipalId    int64
	CredentialId   int64
	CredentialName string

	// OriginModelName is the model exactly as the client sent it, including
	// any provider/ prefix. ActualModelName is what goes upstream.
	OriginModelName string
	ActualModelName string

	ProviderId  string
	BaseURL     string
	APIKey      string
	SubProvider string

	// Region, AccessKey and SecretKey carry SigV4 material for bindings
	// that authenticate with cloud credentials instead of an API key.
	Region    string
	AccessKey string
	SecretKey string

	SessionId string
	IsStream  bool

	// AttemptId distinguishes failover replays of one request: the first
	// attempt reuses the request id, later ones a derived child id.
	AttemptId string

	// PromptTokens is the admission-time estimate used for balance checks;
	// metering replaces it with the upstream-reported count.
	PromptTokens int

	// Price is the pricing snapshot taken at admission. The same snapshot
	// bills the request even if the catalog refreshes mid-flight.
	Price *pricing.Snapshot

	RequestURLPath string

	// StartTime marks admission completion; first-token latency and total
	// duration are measured from here.
	StartTime time.Time

	// ResponseAPIFallback marks a /v1/responses request served through chat
	// conversion because the chosen provider lacks the Response API.
	ResponseAPIFallback bool
}

// GetByContext returns the request's Meta, building and caching it on first
// use. Provider fields stay empty until ApplyBinding runs.
func GetByContext(c *gin.Context) *Meta {
	if v, ok := c.Get(ctxkey.Meta); ok {
		return v.(*Meta)
	}

	m := &Meta{
		Mode:            relaymode.GetByPath(c.Request.URL.Path),
		PrincipalId:     c.GetInt64(ctxkey.PrincipalId),
		CredentialId:    c.GetInt64(ctxkey.CredentialId),
		CredentialName:  c.GetString(ctxkey.CredentialName),
		OriginModelName: c.GetString(ctxkey.RequestModel),
		SessionId:       c.GetString(ctxkey.SessionId),
		RequestURLPath:  c.Request.URL.String(),
		StartTime:       time.Now(),
	}
	if t, ok := c.Get(ctxkey.AdmissionCompletedAt); ok {
		if at, ok := t.(time.Time); ok {
			m.StartTime = at
		}
	}
	if snap, ok := c.Get(ctxkey.PriceSnapshot); ok {
		if price, ok := snap.(*pricing.Snapshot); ok {
			m.Price = price
		}
	}
	m.ActualModelName = StripProviderPrefix(m.OriginModelName)

	c.Set(ctxkey.Meta, m)
	return m
}

// Set2Context stores the meta back on the gin context.
func (m *Meta) Set2Context(c *gin.Context) {
	c.Set(ctxkey.Meta, m)
}

// ApplyBinding points the meta at one provider binding for the next
// attempt. The sub-provider hint selects a virtual key on gateway
// providers.
func (m *Meta) ApplyBinding(b *provider.Binding) {
	m.ProviderId = b.Id
	m.ApiType = b.ApiType()
	m.BaseURL = b.BaseURL
	m.SubProvider = subProviderHint(m.OriginModelName)
	m.APIKey = b.VirtualKeyFor(m.SubProvider)
	m.Region = b.Region
	m.AccessKey = b.AccessKey
	m.SecretKey = b.SecretKey
}

// StripProviderPrefix removes a "provider/" routing prefix from a model id.
// "openai/gpt-4o" addresses gpt-4o pinned to the openai binding; the bare
// model name goes upstream.
func StripProviderPrefix(modelId string) string {
	if idx := strings.Index(modelId, "/"); idx > 0 {
		if _, ok := provider.Get(modelId[:idx]); ok {
			return modelId[idx+1:]
		}
	}
	return modelId
}

// ProviderPrefix extracts the routing prefix from a model id when it names
// a configured provider.
func ProviderPrefix(modelId string) string {
	if idx := strings.Index(modelId, "/"); idx > 0 {
		if _, ok := provider.Get(modelId[:idx]); ok {
			return modelId[:idx]
		}
	}
	return ""
}

// subProviderHint extracts the sub-provider segment used for virtual-key
// selection on gateway providers. For "proxygw/deepseek/deepseek-chat" the
// hint is "deepseek".
func subProviderHint(modelId string) string {
	rest := modelId
	if prefix := ProviderPrefix(modelId); prefix != "" {
		rest = modelId[len(prefix)+1:]
	}
	if idx := strings.Index(rest, "/"); idx > 0 {
		return rest[:idx]
	}
	return ""
}
