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

// URLScan is a provider for urlscan.io search lookups
type URLScan struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     logrus.FieldLogger
}

// URLScanConfig contains configuration for the urlscan.io provider
type URLScanConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// NewURLScan creates a new urlscan.io provider
func NewURLScan(config URLScanConfig) *URLScan {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://urlscan.io/api/v1"
	}

	return &URLScan{
		apiKey:  config.APIKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		log: loggerOrDiscard(config.Logger),
	}
}

// Name returns the provider identifier
func (u *URLScan) Name() string {
	return models.ProviderURLScan
}

// IsAvailable returns true if the provider is configured
func (u *URLScan) IsAvailable() bool {
	return u.apiKey != ""
}

// Check searches urlscan.io for prior scans of rawURL. A URL that urlscan has already
// seen is scored benign. Sentinel test URLs never reach the public API.
func (u *URLScan) Check(ctx context.Context, rawURL string) *models.ProviderOutcome {
	result := &models.ProviderOutcome{
		Service: "Urlscan",
	}

	if IsTestURL(rawURL) {
		result.IsTestURL = true
		result.Succeeded = true
		result.Score = 0
		return result
	}

	if !u.IsAvailable() {
		result.Error = "urlscan API key not configured"
		return result
	}

	params := url.Values{}
	params.Set("q", `page.url:"`+rawURL+`"`)
	reqURL := fmt.Sprintf("%s/search/?%s", u.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result
	}
	req.Header.Set("API-Key", u.apiKey)
	req.Header.Set("Accept", "application/json")

	log := u.log.WithFields(logrus.Fields{"provider": u.Name(), "url": rawURL})
	log.Debug("querying urlscan search")

	body, err := fetch(u.client, req)
	if err != nil {
		log.WithError(err).Warn("urlscan lookup failed")
		result.Error = err.Error()
		return result
	}
	log.WithField("response", string(body)).Debug("urlscan response")

	var search urlscanSearchResponse
	if err := json.Unmarshal(body, &search); err != nil {
		result.Error = fmt.Sprintf("failed to parse response: %v", err)
		return result
	}

	result.Data = json.RawMessage(body)
	result.Succeeded = true
	if len(search.Results) > 0 {
		result.Score = 1
	}

	return result
}

// urlscanSearchResponse represents the urlscan.io search API response
type urlscanSearchResponse struct {
	Results []json.RawMessage `json:"results"`
	Total   int               `json:"total"`
	HasMore bool              `json:"has_more"`
}
