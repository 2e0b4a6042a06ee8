// Package whois looks up registration data for the domain of a checked URL
package whois

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"

	"github.com/commjoen/urlsentry/internal/dns"
	"github.com/commjoen/urlsentry/pkg/models"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultCacheTTL  = 24 * time.Hour
	defaultCacheSize = 1024
)

// Client provides WHOIS lookup functionality with caching
type Client struct {
	timeout time.Duration
	cache   *expirable.LRU[string, *models.WHOISResult]
	query   func(domain string) (string, error)
}

// NewClient creates a new WHOIS client with the specified timeout
func NewClient(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		timeout: timeout,
		cache:   expirable.NewLRU[string, *models.WHOISResult](defaultCacheSize, nil, defaultCacheTTL),
		query:   func(domain string) (string, error) { return whois.Whois(domain) },
	}
}

// LookupURL performs a WHOIS lookup for the registrable domain of rawURL
func (c *Client) LookupURL(ctx context.Context, rawURL string) *models.WHOISResult {
	host, err := dns.HostFromURL(rawURL)
	if err != nil {
		return &models.WHOISResult{Error: err.Error()}
	}
	return c.Lookup(ctx, host)
}

// Lookup performs a WHOIS lookup for the given domain
func (c *Client) Lookup(ctx context.Context, domain string) *models.WHOISResult {
	domain = extractBaseDomain(domain)
	if domain == "" {
		return &models.WHOISResult{Error: "invalid domain"}
	}

	if cached, ok := c.cache.Get(domain); ok {
		return cached
	}

	result := c.performLookup(ctx, domain)
	// Transient failures are retried on the next lookup
	if result.Error == "" {
		c.cache.Add(domain, result)
	}
	return result
}

// performLookup executes the actual WHOIS query
func (c *Client) performLookup(ctx context.Context, domain string) *models.WHOISResult {
	type response struct {
		raw string
		err error
	}
	done := make(chan response, 1)
	go func() {
		raw, err := c.query(domain)
		done <- response{raw: raw, err: err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var resp response
	select {
	case <-ctx.Done():
		return &models.WHOISResult{Domain: domain, Error: "WHOIS lookup cancelled"}
	case <-timer.C:
		return &models.WHOISResult{Domain: domain, Error: "WHOIS lookup timeout"}
	case resp = <-done:
	}

	if resp.err != nil {
		return &models.WHOISResult{Domain: domain, Error: categorizeError(resp.err)}
	}
	return parseRaw(domain, resp.raw)
}

// parseRaw extracts the fields shown next to a verdict from a raw WHOIS response
func parseRaw(domain, raw string) *models.WHOISResult {
	result := &models.WHOISResult{Domain: domain}

	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		result.Error = fmt.Sprintf("parse error: %v", err)
		return result
	}

	if parsed.Domain != nil {
		result.Nameservers = parsed.Domain.NameServers
		if t, err := parseDate(parsed.Domain.CreatedDate); err == nil {
			result.CreationDate = &t
		}
		if t, err := parseDate(parsed.Domain.ExpirationDate); err == nil {
			result.ExpirationDate = &t
		}
	}
	if parsed.Registrar != nil {
		result.Registrar = parsed.Registrar.Name
	}
	if parsed.Registrant != nil {
		result.RegistrantOrg = parsed.Registrant.Organization
	}

	return result
}

// extractBaseDomain returns the registrable domain of a host,
// e.g. "www.example.co.uk" -> "example.co.uk"
func extractBaseDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return ""
	}
	if host, err := dns.HostFromURL(domain); err == nil {
		domain = host
	}

	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return ""
	}

	specialTLDs := map[string]bool{
		"co.uk": true, "org.uk": true, "me.uk": true, "ltd.uk": true,
		"com.au": true, "net.au": true, "org.au": true,
		"co.nz": true, "net.nz": true, "org.nz": true,
		"co.jp": true, "ne.jp": true, "or.jp": true,
		"com.br": true, "net.br": true, "org.br": true,
	}

	if len(parts) >= 3 {
		lastTwo := parts[len(parts)-2] + "." + parts[len(parts)-1]
		if specialTLDs[lastTwo] {
			return strings.Join(parts[len(parts)-3:], ".")
		}
	}

	return strings.Join(parts[len(parts)-2:], ".")
}

// parseDate attempts to parse a date string in various formats
func parseDate(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)

	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02-Jan-2006",
		"January 02, 2006",
		"01/02/2006",
		"2006/01/02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}

// categorizeError converts WHOIS errors to user-friendly messages
func categorizeError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "timeout"):
		return "WHOIS server timeout"
	case strings.Contains(errStr, "connection refused"):
		return "WHOIS server connection refused"
	case strings.Contains(errStr, "no whois server"):
		return "no WHOIS server found for this TLD"
	case strings.Contains(errStr, "rate limit"):
		return "rate limited by WHOIS server"
	default:
		return errStr
	}
}
