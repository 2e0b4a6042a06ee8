package providers

import (
	"bytes"
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

// DefaultReportCountry is the jurisdiction attached to every filed report
const DefaultReportCountry = "RU"

// Netcraft files abuse reports with the Netcraft report API and polls their status
type Netcraft struct {
	baseURL string
	country string
	client  *http.Client
	log     logrus.FieldLogger
}

// NetcraftConfig contains configuration for the Netcraft reporter
type NetcraftConfig struct {
	Country string
	BaseURL string
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// NewNetcraft creates a new Netcraft reporter
func NewNetcraft(config NetcraftConfig) *Netcraft {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	country := strings.TrimSpace(config.Country)
	if country == "" {
		country = DefaultReportCountry
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://report.netcraft.com/api/v3"
	}

	return &Netcraft{
		baseURL: baseURL,
		country: country,
		client: &http.Client{
			Timeout: timeout,
		},
		log: loggerOrDiscard(config.Logger),
	}
}

// Name returns the reporter identifier
func (n *Netcraft) Name() string {
	return models.ReporterNetcraft
}

// Submit files a report for rawURL. On success the returned outcome carries the
// submission id and the status fetched right after submission. Reports for
// sentinel test URLs are simulated.
func (n *Netcraft) Submit(ctx context.Context, rawURL string, data models.ReportData) *models.ReportOutcome {
	result := &models.ReportOutcome{Service: "Netcraft"}
	log := n.log.WithFields(logrus.Fields{"reporter": n.Name(), "url": rawURL, "reason": data.Reason})

	if IsTestURL(rawURL) {
		log.Info("test URL detected, simulating report submission")
		result.Success = true
		result.Data = &models.SubmissionData{Message: "Test URL report simulated"}
		return result
	}

	payload := netcraftReportRequest{
		Email: data.Email,
		URLs: []netcraftReportURL{
			{
				Country: n.country,
				Reason:  data.Reason,
				Tags:    []string{data.Reason},
				URL:     rawURL,
			},
		},
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		result.Error = fmt.Sprintf("failed to marshal request: %v", err)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/report/urls", bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.WithField("request", string(jsonBody)).Debug("submitting report to Netcraft")

	body, err := fetch(n.client, req)
	if err != nil {
		log.WithError(err).WithField("response", string(body)).Warn("Netcraft report submission failed")
		result.Error = err.Error()
		return result
	}
	log.WithField("response", string(body)).Debug("Netcraft report response")

	var resp netcraftReportResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		result.Error = fmt.Sprintf("failed to parse response: %v", err)
		return result
	}

	if resp.UUID == "" {
		result.Error = "no submission uuid returned"
		if resp.Message != "" {
			result.Error = fmt.Sprintf("%s: %s", result.Error, resp.Message)
		}
		log.Warn(result.Error)
		return result
	}

	log.WithField("submission_id", resp.UUID).Info("report accepted by Netcraft")

	result.Success = true
	result.Data = &models.SubmissionData{SubmissionID: resp.UUID}

	status := n.Status(ctx, resp.UUID)
	if status.Success && status.Data != nil {
		result.Data.Status = status.Data.Status
	}

	return result
}

// Status queries the processing state of a filed report
func (n *Netcraft) Status(ctx context.Context, submissionID string) *models.ReportOutcome {
	result := &models.ReportOutcome{Service: "Netcraft"}
	log := n.log.WithFields(logrus.Fields{"reporter": n.Name(), "submission_id": submissionID})

	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		result.Error = "submission id is required"
		return result
	}

	reqURL := fmt.Sprintf("%s/submission/%s", n.baseURL, url.PathEscape(submissionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result
	}
	req.Header.Set("Accept", "application/json")

	log.Debug("fetching Netcraft submission status")

	body, err := fetch(n.client, req)
	if err != nil {
		log.WithError(err).WithField("response", string(body)).Warn("Netcraft status lookup failed")
		result.Error = err.Error()
		return result
	}
	log.WithField("response", string(body)).Debug("Netcraft status response")

	var status models.SubmissionStatus
	if err := json.Unmarshal(body, &status); err != nil {
		result.Error = fmt.Sprintf("failed to parse response: %v", err)
		return result
	}
	if status.UUID == "" {
		status.UUID = submissionID
	}

	result.Success = true
	result.Data = &models.SubmissionData{SubmissionID: submissionID, Status: &status}
	return result
}

// Request structures for the Netcraft report API
type netcraftReportRequest struct {
	Email string              `json:"email"`
	URLs  []netcraftReportURL `json:"urls"`
}

type netcraftReportURL struct {
	Country string   `json:"country"`
	Reason  string   `json:"reason"`
	Tags    []string `json:"tags"`
	URL     string   `json:"url"`
}

type netcraftReportResponse struct {
	UUID    string `json:"uuid"`
	Message string `json:"message"`
}
