package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsentry/fraud-risk-service/internal/domain"
)

func txWithURL(raw string) domain.Transaction {
	return domain.Transaction{
		ID:         "tx-url",
		SenderID:   "alice",
		ReceiverID: "bob",
		Amount:     100,
		Metadata:   map[string]any{"payment_url": raw},
	}
}

func TestAnalyzePhishingLookalikeURL(t *testing.T) {
	t.Parallel()
	a := New()

	score, details := a.Analyze(txWithURL("http://legitbank-secure.fishy-domain.com/payment"))

	// non-https 0.3 + suspicious pattern 0.2 + suspicious keyword 0.1
	assert.InDelta(t, 0.6, score, 1e-9)

	urlDetails, ok := details["url_analysis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, urlDetails["is_https"])
	assert.Equal(t, true, urlDetails["suspicious_domain"])
	assert.Equal(t, true, urlDetails["contains_suspicious_keywords"])
	assert.Equal(t, "legitbank-secure.fishy-domain.com", urlDetails["domain"])
	assert.Equal(t, score, details["content_risk_score"])
}

func TestAnalyzeCleanHTTPSURL(t *testing.T) {
	t.Parallel()
	a := New()

	score, details := a.Analyze(txWithURL("https://paypal.com/checkout"))

	assert.Equal(t, 0.0, score)
	urlDetails := details["url_analysis"].(map[string]any)
	assert.Equal(t, true, urlDetails["is_https"])
	assert.Equal(t, false, urlDetails["suspicious_domain"])
}

func TestAnalyzeSuspiciousTLDAndDigits(t *testing.T) {
	t.Parallel()
	a := New()

	score, details := a.Analyze(txWithURL("http://win-money12345.xyz/claim"))

	// non-https 0.3 + suspicious TLD 0.3 + digit-run pattern 0.2
	assert.InDelta(t, 0.8, score, 1e-9)
	urlDetails := details["url_analysis"].(map[string]any)
	assert.Equal(t, true, urlDetails["suspicious_tld"])
	assert.Equal(t, true, urlDetails["suspicious_domain"])
}

func TestAnalyzeUnparseableURLIsNeutral(t *testing.T) {
	t.Parallel()
	a := New()

	score, details := a.Analyze(txWithURL("not a url"))

	assert.Equal(t, 0.5, score)
	urlDetails := details["url_analysis"].(map[string]any)
	assert.Equal(t, "unparseable url", urlDetails["error"])
}

func TestAnalyzeQRReceiverMismatch(t *testing.T) {
	t.Parallel()
	a := New()

	tx := domain.Transaction{
		ID: "tx-qr", SenderID: "alice", ReceiverID: "bob", Amount: 100,
		Metadata: map[string]any{
			"qr_code_payload": map[string]any{
				"payload":      map[string]any{"receiver_id": "evil"},
				"txn_metadata": map[string]any{"receiver_id": "bob"},
			},
		},
	}
	score, details := a.Analyze(tx)

	assert.InDelta(t, 0.9, score, 1e-9)
	qr := details["qr_analysis"].(map[string]any)
	assert.Equal(t, true, qr["tampering_detected"])
	assert.Equal(t, "bob", qr["original_receiver"])
	assert.Equal(t, "evil", qr["actual_receiver"])
}

func TestAnalyzeQRChecksumMismatch(t *testing.T) {
	t.Parallel()
	a := New()

	tx := domain.Transaction{
		ID: "tx-qr-sum", SenderID: "alice", ReceiverID: "bob", Amount: 100,
		Metadata: map[string]any{
			"qr_code_payload": map[string]any{
				"payload":             map[string]any{"receiver_id": "bob"},
				"txn_metadata":        map[string]any{"receiver_id": "bob", "checksum": "aa11"},
				"calculated_checksum": "bb22",
			},
		},
	}
	score, details := a.Analyze(tx)

	assert.InDelta(t, 0.8, score, 1e-9)
	qr := details["qr_analysis"].(map[string]any)
	assert.Equal(t, true, qr["checksum_mismatch"])
}

func TestAnalyzeQRAdoptsUpstreamConfidence(t *testing.T) {
	t.Parallel()
	a := New()

	tx := domain.Transaction{
		ID: "tx-qr-conf", SenderID: "alice", ReceiverID: "bob", Amount: 100,
		Metadata: map[string]any{
			"qr_code_payload": map[string]any{
				"original_receiver":    "bob",
				"tampered_receiver":    "evil",
				"tampering_confidence": 0.42,
			},
		},
	}
	score, details := a.Analyze(tx)

	assert.InDelta(t, 0.42, score, 1e-9)
	qr := details["qr_analysis"].(map[string]any)
	assert.Equal(t, true, qr["tampering_detected"])
}

func TestAnalyzeSimulatedPhishingIsFixed(t *testing.T) {
	t.Parallel()
	a := New()

	tx := txWithURL("http://legitbank-secure.fishy-domain.com/payment")
	tx.IsSimulated = true
	tx.SimulationType = domain.SimPhishingURL

	score, details := a.Analyze(tx)

	assert.Equal(t, 0.85, score)
	urlDetails := details["url_analysis"].(map[string]any)
	assert.Equal(t, "simulated phishing URL detected", urlDetails["simulation"])
}

func TestAnalyzeSimulatedQRTamperingIsFixed(t *testing.T) {
	t.Parallel()
	a := New()

	tx := domain.Transaction{
		ID: "tx-sim-qr", SenderID: "alice", ReceiverID: "bob", Amount: 100,
		IsSimulated:    true,
		SimulationType: domain.SimQRCodeTampering,
		Metadata: map[string]any{
			"qr_code_payload": map[string]any{
				"original_receiver": "bob",
				"tampered_receiver": "hacker_account_123",
			},
		},
	}
	score, details := a.Analyze(tx)

	assert.Equal(t, 0.92, score)
	qr := details["qr_analysis"].(map[string]any)
	assert.Equal(t, "hacker_account_123", qr["actual_receiver"])
}

func TestAnalyzeNoHintsScoresZero(t *testing.T) {
	t.Parallel()
	a := New()

	score, details := a.Analyze(domain.Transaction{ID: "tx-plain", SenderID: "a", ReceiverID: "b", Amount: 10})

	assert.Equal(t, 0.0, score)
	assert.Empty(t, details["url_analysis"])
	assert.Empty(t, details["qr_analysis"])
}

func TestDomainSimilarity(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1.0, domainSimilarity("paypal.com", "www.paypal.com"))
	assert.Greater(t, domainSimilarity("paytm.com", "paytm.com"), 0.99)
	assert.Less(t, domainSimilarity("evil.example", "paypal.com"), 0.3)
}
