// Package content scores transaction payload hints (payment URLs and QR
// payloads) for phishing and tampering signals. The analyzer is pure: it
// touches no store and is safe for concurrent use.
package content

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/finsentry/fraud-risk-service/internal/analysis"
	"github.com/finsentry/fraud-risk-service/internal/domain"
)

var suspiciousKeywords = []string{
	"secure", "verify", "account", "login", "confirm", "update", "bank",
	"payment", "wallet", "authenticate", "validate",
}

var suspiciousTLDs = []string{".xyz", ".tk", ".ml", ".ga", ".cf", ".gq"}

var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`-?secure-?`),
	regexp.MustCompile(`-?verify-?`),
	regexp.MustCompile(`-?authenticate-?`),
	regexp.MustCompile(`[0-9]{5,}`),
	regexp.MustCompile(`[a-zA-Z0-9]{25,}`),
}

var legitimateDomains = []string{
	"pay.google.com",
	"paypal.com",
	"secure.paypal.com",
	"upi.npci.org.in",
	"payments.amazon.com",
	"banking.icicibank.com",
	"onlinebanking.hdfcbank.com",
	"netbanking.sbi.co.in",
	"phonepe.com",
	"paytm.com",
	"bhimupi.npci.org.in",
}

// Analyzer computes the content sub-score.
type Analyzer struct{}

// New constructs a content Analyzer.
func New() *Analyzer { return &Analyzer{} }

// Analyze returns max(url score, qr score) in [0,1] plus a detail breakdown.
// Simulated transactions with a content-related simulation type get fixed
// scores so the scenarios are reproducible.
func (a *Analyzer) Analyze(tx domain.Transaction) (float64, map[string]any) {
	var urlScore, qrScore float64
	urlDetails := map[string]any{}
	qrDetails := map[string]any{}

	if u, ok := tx.PaymentURL(); ok {
		urlScore, urlDetails = analyzeURL(u)
	}
	if payload, ok := tx.QRPayload(); ok {
		qrScore, qrDetails = analyzeQR(payload)
	}

	score := urlScore
	if qrScore > score {
		score = qrScore
	}

	if tx.IsSimulated {
		switch tx.SimulationType {
		case domain.SimPhishingURL:
			score = 0.85
			rawURL, _ := tx.PaymentURL()
			urlDetails = map[string]any{
				"url":                   rawURL,
				"is_https":              false,
				"suspicious_domain":     true,
				"similar_to_legitimate": true,
				"simulation":            "simulated phishing URL detected",
			}
		case domain.SimQRCodeTampering:
			score = 0.92
			payload, _ := tx.QRPayload()
			qrDetails = map[string]any{
				"tampering_detected":   true,
				"original_receiver":    stringField(payload, "original_receiver"),
				"actual_receiver":      stringField(payload, "tampered_receiver"),
				"tampering_confidence": 0.92,
				"simulation":           "simulated QR code tampering detected",
			}
		}
	}

	details := map[string]any{
		"url_analysis":       urlDetails,
		"qr_analysis":        qrDetails,
		"content_risk_score": score,
	}
	return score, details
}

func analyzeURL(raw string) (float64, map[string]any) {
	details := map[string]any{
		"url":                          raw,
		"is_https":                     false,
		"domain":                       "",
		"suspicious_domain":            false,
		"contains_suspicious_keywords": false,
		"similar_to_legitimate":        false,
		"suspicious_tld":               false,
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		// Unparseable payload: neutral score rather than a hard failure.
		details["error"] = "unparseable url"
		return 0.5, details
	}

	score := 0.0
	if parsed.Scheme == "https" {
		details["is_https"] = true
	} else {
		score += 0.3
	}

	domainName := strings.ToLower(parsed.Host)
	details["domain"] = domainName

	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(domainName, tld) {
			score += 0.3
			details["suspicious_tld"] = true
			break
		}
	}

	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(domainName) {
			score += 0.2
			details["suspicious_domain"] = true
			break
		}
	}

	for _, kw := range suspiciousKeywords {
		if strings.Contains(domainName, kw) {
			score += 0.1
			details["contains_suspicious_keywords"] = true
			break
		}
	}

	for _, legit := range legitimateDomains {
		if domainSimilarity(domainName, legit) > 0.7 && domainName != legit {
			score += 0.4
			details["similar_to_legitimate"] = true
			details["similar_to"] = legit
			break
		}
	}

	if depth := strings.Count(domainName, "."); depth > 2 {
		score += 0.1 * float64(depth-2)
	}

	return analysis.Clamp01(score), details
}

// domainSimilarity is a character-position match ratio after stripping a
// leading "www.", normalized by the longer domain.
func domainSimilarity(a, b string) float64 {
	a = strings.TrimPrefix(a, "www.")
	b = strings.TrimPrefix(b, "www.")
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	matches := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return float64(matches) / float64(longest)
}

func analyzeQR(payload map[string]any) (float64, map[string]any) {
	score := 0.0
	details := map[string]any{
		"tampering_detected":   false,
		"original_receiver":    "",
		"actual_receiver":      "",
		"tampering_confidence": 0.0,
	}

	if conf, ok := floatField(payload, "tampering_confidence"); ok {
		// Confidence supplied upstream (scanner or simulation): adopt it.
		score = conf
		details["tampering_confidence"] = conf
		orig, hasOrig := payload["original_receiver"]
		tampered, hasTampered := payload["tampered_receiver"]
		if hasOrig && hasTampered {
			details["tampering_detected"] = true
			details["original_receiver"] = orig
			details["actual_receiver"] = tampered
		}
		return score, details
	}

	inner, hasPayload := payload["payload"].(map[string]any)
	meta, hasMeta := payload["txn_metadata"].(map[string]any)
	if hasPayload && hasMeta {
		payloadReceiver := stringField(inner, "receiver_id")
		metaReceiver := stringField(meta, "receiver_id")
		if payloadReceiver != "" && metaReceiver != "" && payloadReceiver != metaReceiver {
			score = 0.9
			details["tampering_detected"] = true
			details["original_receiver"] = metaReceiver
			details["actual_receiver"] = payloadReceiver
			details["tampering_confidence"] = 0.9
		}

		checksum := stringField(meta, "checksum")
		calculated := stringField(payload, "calculated_checksum") // carried on the outer payload
		if checksum != "" && calculated != "" && checksum != calculated {
			if score < 0.8 {
				score = 0.8
			}
			details["tampering_detected"] = true
			details["checksum_mismatch"] = true
			if conf, _ := floatField(details, "tampering_confidence"); conf < 0.8 {
				details["tampering_confidence"] = 0.8
			}
		}
	}

	return score, details
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func floatField(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
