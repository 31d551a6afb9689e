package model

import (
	"context"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/modelrelay/modelrelay/common"
)

const (
	CredentialStatusEnabled  = 1
	CredentialStatusDisabled = 2
)

// Credential environments, encoded in the bearer prefix. The prefix is
// advisory only; the stored row is authoritative.
const (
	EnvironmentLive = "live"
	EnvironmentTest = "test"
)

// Credential is an opaque API key bound to one principal. The plaintext is
// never stored: KeyHash (HMAC-SHA256) serves lookups and KeyEncrypted
// (AES-GCM) serves one-time retrieval over secure channels.
type Credential struct {
	Id          int64 `json:"id" gorm:"primaryKey"`
	PrincipalId int64 `json:"principal_id" gorm:"index"`

	KeyHash      string `json:"-" gorm:"size:64;uniqueIndex"`
	KeyEncrypted string `json:"-" gorm:"size:512"`
	// KeyPrefix and KeySuffix reconstruct the masked display form.
	KeyPrefix   string `json:"key_prefix" gorm:"size:16"`
	KeySuffix   string `json:"key_suffix" gorm:"size:8"`
	Environment string `json:"environment" gorm:"size:8;default:live"`

	Name   string `json:"name" gorm:"size:191"`
	Status int    `json:"status" gorm:"default:1"`

	ExpiresAt    *time.Time `json:"expires_at"`
	MaxRequests  int64      `json:"max_requests"`
	UsedRequests int64      `json:"used_requests"`

	// CSV lists; empty means unrestricted.
	Scopes            string `json:"scopes" gorm:"size:255"`
	IpAllowlist       string `json:"ip_allowlist" gorm:"size:512"`
	ReferrerAllowlist string `json:"referrer_allowlist" gorm:"size:512"`

	IsPrimary  bool       `json:"is_primary"`
	LastUsedAt *time.Time `json:"last_used_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FindCredentialByHash looks a credential up by its key hash. A miss
// returns gorm.ErrRecordNotFound wrapped, which admission maps to 401.
func FindCredentialByHash(ctx context.Context, keyHash string) (*Credential, error) {
	var cred Credential
	if err := DB.WithContext(ctx).First(&cred, "key_hash = ?", keyHash).Error; err != nil {
		return nil, errors.Wrap(err, "find credential by hash")
	}
	return &cred, nil
}

// IsEnabled reports whether the credential may authenticate at all.
func (cred *Credential) IsEnabled() bool {
	return cred.Status == CredentialStatusEnabled
}

// IsExpired reports whether the credential's expiry has passed.
func (cred *Credential) IsExpired(now time.Time) bool {
	return cred.ExpiresAt != nil && now.After(*cred.ExpiresAt)
}

// OverRequestCap reports whether the lifetime request counter is exhausted.
// Zero MaxRequests means unlimited.
func (cred *Credential) OverRequestCap() bool {
	return cred.MaxRequests > 0 && cred.UsedRequests >= cred.MaxRequests
}

// ScopeList splits the CSV scope set. Empty means every scope.
func (cred *Credential) ScopeList() []string {
	return splitCSV(cred.Scopes)
}

// AllowsScope reports whether the credential may call an endpoint scope.
func (cred *Credential) AllowsScope(scope string) bool {
	scopes := cred.ScopeList()
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if strings.EqualFold(s, scope) || s == "*" {
			return true
		}
	}
	return false
}

// IpAllowlistEntries splits the CSV of CIDR blocks and bare addresses.
func (cred *Credential) IpAllowlistEntries() []string {
	return splitCSV(cred.IpAllowlist)
}

// ReferrerAllowlistEntries splits the CSV of allowed referrer patterns.
func (cred *Credential) ReferrerAllowlistEntries() []string {
	return splitCSV(cred.ReferrerAllowlist)
}

// MaskedKey reconstructs the display form from the stored prefix and suffix.
func (cred *Credential) MaskedKey() string {
	return cred.KeyPrefix + "..." + cred.KeySuffix
}

// RevealKey decrypts the stored key for one-time retrieval. Callers must only
// expose the result over a secure channel.
func (cred *Credential) RevealKey() (string, error) {
	plaintext, err := common.DecryptCredential(cred.KeyEncrypted)
	if err != nil {
		return "", errors.Wrapf(err, "decrypt credential %d", cred.Id)
	}
	return plaintext, nil
}

// TouchCredential bumps the usage counter and last-seen timestamp after a
// request was admitted. Counter drift under crashes is acceptable; the
// counter is a cap, not a ledger.
func TouchCredential(ctx context.Context, id int64) error {
	err := DB.WithContext(ctx).Model(&Credential{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"used_requests": gorm.Expr("used_requests + 1"),
			"last_used_at":  time.Now(),
		}).Error
	return errors.Wrapf(err, "touch credential %d", id)
}

// InsertCredential hashes and encrypts the plaintext key and stores the row.
// The plaintext never reaches the database.
func InsertCredential(ctx context.Context, cred *Credential, plaintextKey string) error {
	if plaintextKey == "" {
		return errors.New("credential key is empty")
	}
	cred.KeyHash = common.HashCredentialKey(plaintextKey)
	encrypted, err := common.EncryptCredential(plaintextKey)
	if err != nil {
		return errors.Wrap(err, "encrypt credential key")
	}
	cred.KeyEncrypted = encrypted
	if idx := strings.LastIndex(plaintextKey, "_"); idx > 0 && idx+1 < len(plaintextKey) {
		cred.KeyPrefix = plaintextKey[:idx+1]
	} else if len(plaintextKey) > 8 {
		cred.KeyPrefix = plaintextKey[:8]
	}
	if len(plaintextKey) > 4 {
		cred.KeySuffix = plaintextKey[len(plaintextKey)-4:]
	}
	if strings.Contains(plaintextKey, "_test_") {
		cred.Environment = EnvironmentTest
	} else {
		cred.Environment = EnvironmentLive
	}
	return errors.Wrap(DB.WithContext(ctx).Create(cred).Error, "insert credential")
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
