package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidateExternalURL ensures private and local hosts are rejected while
// public IPs pass.
func TestValidateExternalURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	blocked := []string{
		"http://127.0.0.1/test",
		"http://localhost/test",
		"http://10.0.0.1/test",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/test",
		"http://100.64.0.1/test",
	}
	for _, raw := range blocked {
		_, err := ValidateExternalURL(ctx, raw)
		require.Error(t, err, "expected %s to be blocked", raw)
	}

	allowed := []string{
		"http://8.8.8.8/test",
		"https://1.1.1.1/test",
	}
	for _, raw := range allowed {
		_, err := ValidateExternalURL(ctx, raw)
		require.NoError(t, err, "expected %s to be allowed", raw)
	}

	_, err := ValidateExternalURL(ctx, "ftp://example.com/resource")
	require.Error(t, err)
}

func TestIsIPInAllowlist(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		clientIP  string
		allowlist []string
		want      bool
	}{
		{name: "empty allowlist admits all", clientIP: "203.0.113.9", allowlist: nil, want: true},
		{name: "exact ip match", clientIP: "203.0.113.9", allowlist: []string{"203.0.113.9"}, want: true},
		{name: "cidr match", clientIP: "10.1.2.3", allowlist: []string{"10.0.0.0/8"}, want: true},
		{name: "cidr miss", clientIP: "192.168.1.1", allowlist: []string{"10.0.0.0/8"}, want: false},
		{name: "malformed entry skipped", clientIP: "10.1.2.3", allowlist: []string{"not-a-cidr/99", "10.0.0.0/8"}, want: true},
		{name: "malformed client ip", clientIP: "banana", allowlist: []string{"10.0.0.0/8"}, want: false},
		{name: "ipv6 exact", clientIP: "2001:db8::1", allowlist: []string{"2001:db8::1"}, want: true},
		{name: "ipv6 cidr", clientIP: "2001:db8::42", allowlist: []string{"2001:db8::/32"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsIPInAllowlist(tt.clientIP, tt.allowlist))
		})
	}
}

func TestMatchesReferrerAllowlist(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		referrer  string
		allowlist []string
		want      bool
	}{
		{name: "empty allowlist admits all", referrer: "", allowlist: nil, want: true},
		{name: "missing referrer rejected when list set", referrer: "", allowlist: []string{"example.com"}, want: false},
		{name: "exact host", referrer: "https://example.com/page", allowlist: []string{"example.com"}, want: true},
		{name: "subdomain covered", referrer: "https://app.example.com/", allowlist: []string{"example.com"}, want: true},
		{name: "suffix trick rejected", referrer: "https://evilexample.com/", allowlist: []string{"example.com"}, want: false},
		{name: "bare host referrer", referrer: "example.com", allowlist: []string{"example.com"}, want: true},
		{name: "case insensitive", referrer: "https://APP.Example.COM/", allowlist: []string{"example.com"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, MatchesReferrerAllowlist(tt.referrer, tt.allowlist))
		})
	}
}
