// Package output provides formatting options for check reports
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/commjoen/urlsentry/pkg/models"
)

// Formatter defines the interface for output formatters
type Formatter interface {
	Format(report *models.CheckReport) (string, error)
	Write(w io.Writer, report *models.CheckReport) error
}

// TextFormatter formats reports as human-readable text tables
type TextFormatter struct{}

// JSONFormatter formats reports as JSON
type JSONFormatter struct {
	Pretty bool
}

// CSVFormatter formats reports as CSV, one row per provider
type CSVFormatter struct{}

// NewFormatter creates a new formatter based on the format type
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "text", "":
		return &TextFormatter{}, nil
	case "json":
		return &JSONFormatter{Pretty: true}, nil
	case "csv":
		return &CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func format(f Formatter, report *models.CheckReport) (string, error) {
	var sb strings.Builder
	if err := f.Write(&sb, report); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// providerKeys returns outcome keys in a stable order
func providerKeys(outcomes map[string]models.ProviderOutcome) []string {
	keys := make([]string, 0, len(outcomes))
	for k := range outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Format returns the formatted string
func (f *TextFormatter) Format(report *models.CheckReport) (string, error) {
	return format(f, report)
}

// Write writes the formatted output to the writer
func (f *TextFormatter) Write(w io.Writer, report *models.CheckReport) error {
	if report == nil || report.Result == nil {
		return fmt.Errorf("nothing to format")
	}
	result := report.Result
	separator := strings.Repeat("=", 80)
	lineSeparator := strings.Repeat("-", 80)

	fmt.Fprintf(w, "URL: %s\n", result.URL)
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "%-14s %-12s %-8s %s\n", "Provider", "Status", "Score", "Note")
	fmt.Fprintln(w, lineSeparator)

	clean := 0
	for _, key := range providerKeys(result.ProviderOutcomes) {
		o := result.ProviderOutcomes[key]
		status := "ok"
		if !o.Succeeded {
			status = "failed"
		}
		if o.Score > 0 {
			clean++
		}
		note := o.Error
		if o.IsTestURL {
			note = "test url"
		}
		if len(note) > 42 {
			note = note[:39] + "..."
		}
		fmt.Fprintf(w, "%-14s %-12s %-8.2f %s\n", key, status, o.Score, note)
	}

	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Total score: %.2f | %d of %d providers clean\n",
		result.AggregateScore, clean, len(result.ProviderOutcomes))

	if result.ReportStatus != nil && result.ReportStatus.Netcraft != nil {
		nc := result.ReportStatus.Netcraft
		if nc.Success {
			fmt.Fprintf(w, "Netcraft report: submitted %s\n", nc.SubmissionID())
		} else {
			fmt.Fprintf(w, "Netcraft report: failed (%s)\n", nc.Error)
		}
	}

	if report.DNS != nil {
		fmt.Fprintf(w, "\nDNS for %s\n", report.Host)
		fmt.Fprintln(w, lineSeparator)
		writeList(w, "A", report.DNS.A)
		writeList(w, "AAAA", report.DNS.AAAA)
		if report.DNS.CNAME != "" {
			fmt.Fprintf(w, "%-14s %s\n", "CNAME", report.DNS.CNAME)
		}
		writeList(w, "NS", report.DNS.NS)
		if report.DNS.Error != "" {
			fmt.Fprintf(w, "%-14s %s\n", "Error", report.DNS.Error)
		}
	}

	if report.WHOIS != nil {
		fmt.Fprintf(w, "\nWHOIS for %s\n", report.WHOIS.Domain)
		fmt.Fprintln(w, lineSeparator)
		if report.WHOIS.Registrar != "" {
			fmt.Fprintf(w, "%-14s %s\n", "Registrar", report.WHOIS.Registrar)
		}
		if report.WHOIS.RegistrantOrg != "" {
			fmt.Fprintf(w, "%-14s %s\n", "Registrant", report.WHOIS.RegistrantOrg)
		}
		if report.WHOIS.CreationDate != nil {
			fmt.Fprintf(w, "%-14s %s\n", "Created", report.WHOIS.CreationDate.Format("2006-01-02"))
		}
		if report.WHOIS.ExpirationDate != nil {
			fmt.Fprintf(w, "%-14s %s\n", "Expires", report.WHOIS.ExpirationDate.Format("2006-01-02"))
		}
		writeList(w, "Nameservers", report.WHOIS.Nameservers)
		if report.WHOIS.Error != "" {
			fmt.Fprintf(w, "%-14s %s\n", "Error", report.WHOIS.Error)
		}
	}

	return nil
}

func writeList(w io.Writer, label string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(w, "%-14s %s\n", label, strings.Join(values, ", "))
}

// Format returns the formatted string
func (f *JSONFormatter) Format(report *models.CheckReport) (string, error) {
	return format(f, report)
}

// Write writes the formatted output to the writer
func (f *JSONFormatter) Write(w io.Writer, report *models.CheckReport) error {
	encoder := json.NewEncoder(w)
	if f.Pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(report)
}

// Format returns the formatted string
func (f *CSVFormatter) Format(report *models.CheckReport) (string, error) {
	return format(f, report)
}

// Write writes the formatted output to the writer
func (f *CSVFormatter) Write(w io.Writer, report *models.CheckReport) error {
	if report == nil || report.Result == nil {
		return fmt.Errorf("nothing to format")
	}
	result := report.Result

	writer := csv.NewWriter(w)

	header := []string{"url", "provider", "service", "succeeded", "score", "test_url", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, key := range providerKeys(result.ProviderOutcomes) {
		o := result.ProviderOutcomes[key]
		row := []string{
			result.URL,
			key,
			o.Service,
			strconv.FormatBool(o.Succeeded),
			strconv.FormatFloat(o.Score, 'f', -1, 64),
			strconv.FormatBool(o.IsTestURL),
			o.Error,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	total := []string{result.URL, "total", "", "", strconv.FormatFloat(result.AggregateScore, 'f', -1, 64), "", ""}
	if err := writer.Write(total); err != nil {
		return err
	}

	writer.Flush()
	return writer.Error()
}
