// Package models contains shared data structures used across the application
package models

import (
	"encoding/json"
	"time"
)

// Provider keys used in ReputationResult.ProviderOutcomes and ReportStatus
const (
	ProviderVirusTotal = "virusTotal"
	ProviderURLScan    = "urlscan"
	ReporterNetcraft   = "netcraft"
)

// Reasons accepted for an abuse report. The reason doubles as the report tag.
const (
	ReasonPhishing = "phishing"
	ReasonMalware  = "malware"
	ReasonScam     = "scam"
)

// ValidReasons lists the reasons accepted by the report workflow
var ValidReasons = []string{ReasonPhishing, ReasonMalware, ReasonScam}

// IsValidReason reports whether reason is an accepted report reason
func IsValidReason(reason string) bool {
	for _, r := range ValidReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// ProviderOutcome is the normalized result of a single reputation provider lookup.
// Score 1 means the provider considers the URL benign, 0 means it was flagged or
// the lookup failed.
type ProviderOutcome struct {
	Service   string          `json:"service"`
	Data      json.RawMessage `json:"data"`
	Score     float64         `json:"score"`
	Succeeded bool            `json:"succeeded"`
	Error     string          `json:"error,omitempty"`
	IsTestURL bool            `json:"isTestUrl,omitempty"`
}

// ReputationResult is the aggregated verdict for one URL
type ReputationResult struct {
	URL              string                     `json:"url"`
	ProviderOutcomes map[string]ProviderOutcome `json:"reputation"`
	AggregateScore   float64                    `json:"totalScore"`
	ReportStatus     *ReportStatus              `json:"reportStatus"`
}

// Clone returns a deep copy of the result
func (r *ReputationResult) Clone() *ReputationResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.ProviderOutcomes != nil {
		c.ProviderOutcomes = make(map[string]ProviderOutcome, len(r.ProviderOutcomes))
		for name, o := range r.ProviderOutcomes {
			if o.Data != nil {
				o.Data = append(json.RawMessage(nil), o.Data...)
			}
			c.ProviderOutcomes[name] = o
		}
	}
	c.ReportStatus = r.ReportStatus.Clone()
	return &c
}

// ReportStatus carries report outcomes keyed by reporter
type ReportStatus struct {
	Netcraft *ReportOutcome `json:"netcraft"`
}

// Clone returns a deep copy of the report status
func (s *ReportStatus) Clone() *ReportStatus {
	if s == nil {
		return nil
	}
	return &ReportStatus{Netcraft: s.Netcraft.Clone()}
}

// ReportData is the user supplied part of an abuse report
type ReportData struct {
	Email   string `json:"email"`
	Reason  string `json:"reason"`
	Details string `json:"details"`
}

// ReportOutcome is the normalized result of a report submission or status poll
type ReportOutcome struct {
	Service string          `json:"service"`
	Success bool            `json:"success"`
	Data    *SubmissionData `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Clone returns a deep copy of the outcome
func (o *ReportOutcome) Clone() *ReportOutcome {
	if o == nil {
		return nil
	}
	c := *o
	if o.Data != nil {
		d := *o.Data
		if o.Data.Status != nil {
			st := *o.Data.Status
			d.Status = &st
		}
		c.Data = &d
	}
	return &c
}

// SubmissionID returns the provider assigned identifier, if any
func (o *ReportOutcome) SubmissionID() string {
	if o == nil || o.Data == nil {
		return ""
	}
	return o.Data.SubmissionID
}

// SubmissionData is the payload of a successful report outcome
type SubmissionData struct {
	SubmissionID string            `json:"submissionId,omitempty"`
	Status       *SubmissionStatus `json:"status,omitempty"`
	Message      string            `json:"message,omitempty"`
}

// SubmissionStatus is the processing state of a filed report
type SubmissionStatus struct {
	UUID      string    `json:"uuid"`
	Date      int64     `json:"date"`
	Pending   bool      `json:"pending"`
	Submitter Submitter `json:"submitter"`
}

// Submitter identifies who filed a report
type Submitter struct {
	Email string `json:"email"`
}

// ReportSubmission tracks one report accepted by the reporting authority
type ReportSubmission struct {
	SubmissionID  string            `json:"submissionId"`
	URL           string            `json:"url"`
	ReporterEmail string            `json:"reporterEmail"`
	Reason        string            `json:"reason"`
	Details       string            `json:"details,omitempty"`
	Status        *SubmissionStatus `json:"status,omitempty"`
	SubmittedAt   time.Time         `json:"submittedAt"`
}

// CheckReport is the one-shot CLI view of a lookup, with optional host enrichment
type CheckReport struct {
	Timestamp time.Time         `json:"timestamp"`
	Result    *ReputationResult `json:"result"`
	Host      string            `json:"host,omitempty"`
	DNS       *DNSResult        `json:"dns,omitempty"`
	WHOIS     *WHOISResult      `json:"whois,omitempty"`
}

// DNSResult contains DNS records for the host of a checked URL
type DNSResult struct {
	A     []string `json:"a,omitempty"`
	AAAA  []string `json:"aaaa,omitempty"`
	CNAME string   `json:"cname,omitempty"`
	NS    []string `json:"ns,omitempty"`
	Error string   `json:"error,omitempty"`
}

// WHOISResult contains registration data for the domain of a checked URL
type WHOISResult struct {
	Domain         string     `json:"domain,omitempty"`
	Registrar      string     `json:"registrar,omitempty"`
	RegistrantOrg  string     `json:"registrant_org,omitempty"`
	CreationDate   *time.Time `json:"creation_date,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	Nameservers    []string   `json:"nameservers,omitempty"`
	Error          string     `json:"error,omitempty"`
}
