package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HTTPTokenVerifier is the default TokenVerifier: it POSTs the candidate
// key to an external verification endpoint (config.AuthConfig.APIKeyVerifyURL)
// and expects {"valid": bool, "tenant_id": string} back, satisfying
// spec.md §6.1's "verified by a callback supplied at boot" contract.
type HTTPTokenVerifier struct {
	VerifyURL string
	Client    *http.Client
}

// NewHTTPTokenVerifier builds a verifier posting to verifyURL with a
// 5-second default timeout.
func NewHTTPTokenVerifier(verifyURL string) *HTTPTokenVerifier {
	return &HTTPTokenVerifier{
		VerifyURL: verifyURL,
		Client:    &http.Client{Timeout: 5 * time.Second},
	}
}

type verifyRequest struct {
	APIKey string `json:"api_key"`
}

type verifyResponse struct {
	Valid    bool   `json:"valid"`
	TenantID string `json:"tenant_id"`
}

// VerifyAPIKey implements TokenVerifier.
func (v *HTTPTokenVerifier) VerifyAPIKey(ctx context.Context, key string) (string, bool) {
	if v.VerifyURL == "" {
		return "", false
	}
	body, err := json.Marshal(verifyRequest{APIKey: key})
	if err != nil {
		return "", false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.VerifyURL, bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.Client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false
	}
	if !out.Valid {
		return "", false
	}
	return out.TenantID, true
}
