package publish

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSigner delegates Deliver transaction signing to a co-located
// signer service holding the worker key. Keeps key material out of this
// process.
type HTTPSigner struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSigner creates a signer client.
func NewHTTPSigner(url string, timeout time.Duration) *HTTPSigner {
	return &HTTPSigner{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SignDeliver requests a signed Deliver transaction from the signer.
func (s *HTTPSigner) SignDeliver(requestID string, responseHash string) (string, error) {
	body, err := json.Marshal(struct {
		RequestID    string `json:"request_id"`
		ResponseHash string `json:"response_hash"`
	}{RequestID: requestID, ResponseHash: responseHash})
	if err != nil {
		return "", err
	}

	resp, err := s.httpClient.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("signer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signer returned http %d", resp.StatusCode)
	}

	var out struct {
		RawTx string `json:"raw_tx"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode signer response: %w", err)
	}
	if out.RawTx == "" {
		return "", fmt.Errorf("signer returned empty transaction")
	}
	return out.RawTx, nil
}
