// Package ctxkey defines the context keys used to pass request-scoped values
// through the gin pipeline. Keys are set by the admission middlewares and
// consumed by the relay controllers and billing tail.
package ctxkey

const (
	// RequestId is the per-request id minted at the edge, echoed in the
	// X-Request-Id response header and reused as the billing reference.
	RequestId = "X-Request-Id"

	// PrincipalId is the numeric id of the authenticated principal.
	PrincipalId = "principal_id"
	// Principal is the loaded *model.Principal row.
	Principal = "principal"
	// CredentialId is the id of the credential that authenticated the request.
	CredentialId = "credential_id"
	// Credential is the loaded *model.Credential row.
	Credential = "credential"
	// CredentialName is the display name of the credential, for logs.
	CredentialName = "credential_name"
	// Scopes is the credential's allowed scope set.
	Scopes = "scopes"

	// RequestModel is the model id as the client sent it.
	RequestModel = "request_model"
	// ProviderChain is the ordered []string of provider ids to attempt.
	ProviderChain = "provider_chain"
	// ProviderId is the id of the provider currently being attempted.
	ProviderId = "provider_id"
	// ProviderHint is the client-supplied provider override, when present.
	ProviderHint = "provider_hint"
	// PriceSnapshot is the *pricing.Snapshot taken at admission.
	PriceSnapshot = "price_snapshot"

	// SessionId is the chat session the request appends to, when present.
	SessionId = "session_id"
	// SessionHistoryInjected marks that history was prepended pre-flight.
	SessionHistoryInjected = "session_history_injected"

	// AdmissionCompletedAt is the time.Time when admission finished; first
	// token latency is measured from this point.
	AdmissionCompletedAt = "admission_completed_at"
	// FirstTokenAt is the time.Time when the first content byte was flushed.
	FirstTokenAt = "first_token_at"
	// StreamCommitted marks that at least one content byte reached the
	// client; failover is forbidden once set.
	StreamCommitted = "stream_committed"

	// ConvertedRequest is the upstream-dialect request produced by the
	// adapter's converter.
	ConvertedRequest = "converted_request"
	// ConvertedResponse is a pre-serialized upstream response override.
	ConvertedResponse = "converted_response"
	// ClaudeMessagesNative marks a request that entered via /v1/messages and
	// must leave in Anthropic shape.
	ClaudeMessagesNative = "claude_messages_native"
	// ClaudeDirectPassthrough marks a native Claude request headed to a
	// Claude-speaking provider, relayed without conversion.
	ClaudeDirectPassthrough = "claude_direct_passthrough"
	// ResponseAPIFallback marks a /v1/responses request served through chat
	// conversion because the provider lacks the Response API.
	ResponseAPIFallback = "response_api_fallback"
	// MaxTokensDefaulted carries the substituted max_tokens value when the
	// client omitted it on the Anthropic surface.
	MaxTokensDefaulted = "max_tokens_defaulted"
	// ResponseText is the assistant text accumulated by the response
	// handler, consumed by the session appender.
	ResponseText = "response_text"

	// Meta is the cached *meta.Meta for the request.
	Meta = "meta"
	// KeyRequestBody caches the raw request body for reuse across attempts.
	KeyRequestBody = "key_request_body"
	// ClientRequestPayloadLogged marks that the inbound payload debug log
	// fired, so replays of the cached body do not log twice.
	ClientRequestPayloadLogged = "client_request_payload_logged"

	// RelayDeadline is the time.Time when the whole request must give up;
	// per-attempt budgets shrink to whatever remains of it.
	RelayDeadline = "relay_deadline"

	// BaseURL is the resolved upstream base URL for the current attempt.
	BaseURL = "base_url"
	// VirtualKey is the sub-provider key override for gateway providers.
	VirtualKey = "virtual_key"
)
