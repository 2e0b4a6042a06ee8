package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/commjoen/urlsentry/internal/providers"
	"github.com/commjoen/urlsentry/pkg/models"
)

// Annotator attaches report outcomes to cached verdicts
type Annotator interface {
	Touch(url string, mutate func(*models.ReputationResult)) bool
}

// Submission is the result of a report submission
type Submission struct {
	URL          string
	ReportStatus *models.ReportStatus

	// Registered is true when the submission added a new identifier to the registry
	Registered bool
}

// Manager submits abuse reports and tracks their identifiers
type Manager struct {
	reporter  providers.Reporter
	annotator Annotator
	registry  *Registry
	clock     clockwork.Clock
	log       logrus.FieldLogger
}

// Config wires the manager's collaborators. Annotator may be nil.
type Config struct {
	Reporter  providers.Reporter
	Annotator Annotator
	Registry  *Registry
	Clock     clockwork.Clock
	Logger    logrus.FieldLogger
}

// NewManager creates a report manager
func NewManager(config Config) *Manager {
	if config.Registry == nil {
		config.Registry = NewRegistry()
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		config.Logger = l
	}
	return &Manager{
		reporter:  config.Reporter,
		annotator: config.Annotator,
		registry:  config.Registry,
		clock:     config.Clock,
		log:       config.Logger,
	}
}

// Registry returns the identifier registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Submit files a report for rawURL. On success a returned identifier is registered
// and a cached verdict for rawURL is annotated with the outcome. On failure
// neither the registry nor the cache is touched.
func (m *Manager) Submit(ctx context.Context, rawURL string, data models.ReportData) Submission {
	log := m.log.WithFields(logrus.Fields{"url": rawURL, "reason": data.Reason})

	var outcome *models.ReportOutcome
	if err := validate(rawURL, data); err != nil {
		outcome = &models.ReportOutcome{Service: "Netcraft", Error: err.Error()}
	} else {
		outcome = m.reporter.Submit(context.WithoutCancel(ctx), rawURL, data)
	}
	if outcome == nil {
		outcome = &models.ReportOutcome{Service: "Netcraft", Error: "reporter returned no result"}
	}

	sub := Submission{
		URL:          rawURL,
		ReportStatus: &models.ReportStatus{Netcraft: outcome},
	}

	if !outcome.Success {
		log.WithField("error", outcome.Error).Warn("report submission failed")
		return sub
	}

	if id := outcome.SubmissionID(); id != "" {
		var status *models.SubmissionStatus
		if outcome.Data != nil {
			status = outcome.Data.Status
		}
		sub.Registered = m.registry.Track(models.ReportSubmission{
			SubmissionID:  id,
			URL:           rawURL,
			ReporterEmail: data.Email,
			Reason:        data.Reason,
			Details:       data.Details,
			Status:        status,
			SubmittedAt:   m.clock.Now().UTC(),
		})
		log.WithFields(logrus.Fields{"submission_id": id, "new": sub.Registered}).Info("report submitted")
	} else {
		log.Info("report accepted without submission id")
	}

	if m.annotator != nil {
		status := sub.ReportStatus.Clone()
		if m.annotator.Touch(rawURL, func(r *models.ReputationResult) { r.ReportStatus = status }) {
			log.Debug("cached verdict annotated with report outcome")
		}
	}

	return sub
}

// Status polls the reporting authority for the current state of a submission.
// Every call reaches the provider.
func (m *Manager) Status(ctx context.Context, submissionID string) *models.ReportOutcome {
	outcome := m.reporter.Status(context.WithoutCancel(ctx), submissionID)
	if outcome == nil {
		return &models.ReportOutcome{Service: "Netcraft", Error: "reporter returned no result"}
	}
	if outcome.Success && outcome.Data != nil {
		// The reporter echoes the identifier it actually queried
		id := outcome.Data.SubmissionID
		if id == "" {
			id = submissionID
		}
		m.registry.updateStatus(id, outcome.Data.Status)
	}
	return outcome
}

// validate checks user input. Sentinel test URLs are always accepted so QA runs
// get the simulated outcome.
func validate(rawURL string, data models.ReportData) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("url is required")
	}
	if providers.IsTestURL(rawURL) {
		return nil
	}
	if strings.TrimSpace(data.Email) == "" {
		return fmt.Errorf("reporter email is required")
	}
	if !models.IsValidReason(data.Reason) {
		return fmt.Errorf("unsupported reason %q, expected one of %s", data.Reason, strings.Join(models.ValidReasons, ", "))
	}
	return nil
}
