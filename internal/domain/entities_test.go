package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	t.Parallel()
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusPendingVerification.Terminal())
	assert.True(t, StatusBlocked.Terminal())
}

func TestFraudRate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, SystemStats{}.FraudRate())
	assert.InDelta(t, 25.0, SystemStats{Total: 4, Blocked: 1}.FraudRate(), 1e-9)
}

func TestPaymentURL(t *testing.T) {
	t.Parallel()
	_, ok := Transaction{}.PaymentURL()
	assert.False(t, ok)

	_, ok = Transaction{Metadata: map[string]any{"payment_url": ""}}.PaymentURL()
	assert.False(t, ok)

	u, ok := Transaction{Metadata: map[string]any{"payment_url": "https://x.example"}}.PaymentURL()
	assert.True(t, ok)
	assert.Equal(t, "https://x.example", u)
}

func TestQRPayload(t *testing.T) {
	t.Parallel()
	_, ok := Transaction{}.QRPayload()
	assert.False(t, ok)

	payload, ok := Transaction{Metadata: map[string]any{
		"qr_code_payload": map[string]any{"original_receiver": "bob"},
	}}.QRPayload()
	assert.True(t, ok)
	assert.Equal(t, "bob", payload["original_receiver"])
}
