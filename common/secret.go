package common

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"sync"

	"github.com/Laisky/errors/v2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/modelrelay/modelrelay/common/config"
)

const secretMask = "******"

// pbkdf2Iterations stretches CREDENTIAL_ENCRYPTION_KEY; the derived key is
// memoized so the cost is paid once per process.
const pbkdf2Iterations = 64_000

var (
	credentialKeySalt = []byte("modelrelay/credential-store/v1")
	credentialKeyOnce sync.Once
	credentialKey     []byte
)

// MaskSecret returns a masked placeholder for secrets.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	return secretMask
}

// IsMaskedSecret reports whether the supplied value is a masked placeholder.
func IsMaskedSecret(value string) bool {
	return value == secretMask
}

// HashCredentialKey returns the keyed lookup hash for an API credential.
// The HMAC key doubles as the salt, so raw table dumps cannot be joined
// against a rainbow table of well-known keys.
func HashCredentialKey(plaintext string) string {
	mac := hmac.New(sha256.New, []byte(config.CredentialHashKey))
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// EncryptCredential encrypts a credential for at-rest storage using AES-GCM
// under a key derived from CREDENTIAL_ENCRYPTION_KEY.
func EncryptCredential(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	block, err := aes.NewCipher(deriveCredentialKey())
	if err != nil {
		return "", errors.Wrap(err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "create gcm")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "read nonce")
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(value), nil)
	payload := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptCredential decrypts a value encrypted by EncryptCredential.
func DecryptCredential(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	payload, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", errors.Wrap(err, "decode secret")
	}

	block, err := aes.NewCipher(deriveCredentialKey())
	if err != nil {
		return "", errors.Wrap(err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "create gcm")
	}

	nonceSize := gcm.NonceSize()
	if len(payload) < nonceSize {
		return "", errors.New("secret payload too short")
	}

	nonce := payload[:nonceSize]
	ciphertext := payload[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(err, "decrypt secret")
	}

	return string(plaintext), nil
}

// deriveCredentialKey stretches the configured encryption key into a stable
// 32-byte AES key.
func deriveCredentialKey() []byte {
	credentialKeyOnce.Do(func() {
		secret := config.CredentialEncryptionKey
		if secret == "" {
			secret = "modelrelay-default-secret"
		}
		credentialKey = pbkdf2.Key([]byte(secret), credentialKeySalt, pbkdf2Iterations, 32, sha256.New)
	})
	return credentialKey
}
