// Package providers provides third-party reputation and abuse-report service integrations
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/commjoen/urlsentry/pkg/models"
)

// VirusTotal is a provider for VirusTotal URL reputation checks
type VirusTotal struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     logrus.FieldLogger
}

// VirusTotalConfig contains configuration for the VirusTotal provider
type VirusTotalConfig struct {
	APIKey  string // #nosec G117
	BaseURL string
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// NewVirusTotal creates a new VirusTotal provider
func NewVirusTotal(config VirusTotalConfig) *VirusTotal {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.virustotal.com/vtapi/v2"
	}

	return &VirusTotal{
		apiKey:  config.APIKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		log: loggerOrDiscard(config.Logger),
	}
}

// Name returns the provider identifier
func (v *VirusTotal) Name() string {
	return models.ProviderVirusTotal
}

// IsAvailable returns true if the provider is configured
func (v *VirusTotal) IsAvailable() bool {
	return v.apiKey != ""
}

// Check queries the VirusTotal URL report for rawURL. A URL is scored benign when no
// engine reports it as positive. Sentinel test URLs are still looked up but always
// scored as flagged.
func (v *VirusTotal) Check(ctx context.Context, rawURL string) *models.ProviderOutcome {
	result := &models.ProviderOutcome{
		Service:   "VirusTotal",
		IsTestURL: IsTestURL(rawURL),
	}

	if !v.IsAvailable() {
		result.Error = "VirusTotal API key not configured"
		return result
	}

	params := url.Values{}
	params.Set("apikey", v.apiKey)
	params.Set("resource", rawURL)
	reqURL := fmt.Sprintf("%s/url/report?%s", v.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result
	}
	req.Header.Set("Accept", "application/json")

	log := v.log.WithFields(logrus.Fields{"provider": v.Name(), "url": rawURL})
	log.Debug("querying VirusTotal url report")

	// #nosec G704 - URL is from the configured VirusTotal API base
	body, err := fetch(v.client, req)
	if err != nil {
		log.WithError(err).Warn("VirusTotal lookup failed")
		result.Error = err.Error()
		return result
	}
	log.WithField("response", string(body)).Debug("VirusTotal response")

	var report virusTotalURLReport
	if err := json.Unmarshal(body, &report); err != nil {
		result.Error = fmt.Sprintf("failed to parse response: %v", err)
		return result
	}

	result.Data = json.RawMessage(body)
	result.Succeeded = true
	switch {
	case result.IsTestURL:
		result.Score = 0
	case report.Positives > 0:
		result.Score = 0
	default:
		result.Score = 1
	}

	return result
}

// virusTotalURLReport represents the fields of the v2 url/report response used for scoring
type virusTotalURLReport struct {
	ResponseCode int    `json:"response_code"`
	Resource     string `json:"resource"`
	Positives    int    `json:"positives"`
	Total        int    `json:"total"`
	ScanDate     string `json:"scan_date"`
	Permalink    string `json:"permalink"`
}
