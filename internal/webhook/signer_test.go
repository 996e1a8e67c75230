package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignMatchesReferenceHMAC(t *testing.T) {
	t.Parallel()

	secret := "test-secret"
	body := []byte(`{"eventType":"email.bounced"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign(secret, body))
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	secret := "test-secret"
	body := []byte(`{"eventType":"email.bounced"}`)
	sig := Sign(secret, body)

	assert.True(t, VerifySignature(secret, body, sig))
	assert.False(t, VerifySignature("other-secret", body, sig))
	assert.False(t, VerifySignature(secret, []byte(`{}`), sig))
	assert.False(t, VerifySignature(secret, body, "deadbeef"))
}
