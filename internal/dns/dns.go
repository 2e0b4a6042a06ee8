// Package dns resolves the host of a checked URL for CLI enrichment
package dns

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/commjoen/urlsentry/pkg/models"
)

const (
	defaultTimeout = 10 * time.Second
	defaultRetries = 3
)

// Client provides DNS query functionality
type Client struct {
	dnsServers []string
	timeout    time.Duration
	retries    int
}

// NewClient creates a DNS client using the system resolvers
func NewClient(timeout time.Duration) *Client {
	return NewClientWithServers(timeout, getSystemDNSServers())
}

// NewClientWithServers creates a DNS client that queries the given host:port servers
func NewClientWithServers(timeout time.Duration, servers []string) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		timeout:    timeout,
		retries:    defaultRetries,
		dnsServers: servers,
	}
}

// getSystemDNSServers returns the system's DNS servers or defaults
func getSystemDNSServers() []string {
	config, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}

	servers := make([]string, 0, len(config.Servers))
	for _, server := range config.Servers {
		servers = append(servers, net.JoinHostPort(server, config.Port))
	}
	return servers
}

// HostFromURL extracts the hostname from a URL. A bare host is accepted.
func HostFromURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}

// LookupURL resolves the host of rawURL
func (c *Client) LookupURL(ctx context.Context, rawURL string) *models.DNSResult {
	host, err := HostFromURL(rawURL)
	if err != nil {
		return &models.DNSResult{Error: err.Error()}
	}
	return c.QueryAll(ctx, host)
}

// QueryAll queries A, AAAA, CNAME and NS records for hostname concurrently.
// Records that do not exist are not errors; the result carries whatever resolved.
func (c *Client) QueryAll(ctx context.Context, hostname string) *models.DNSResult {
	result := &models.DNSResult{}

	if ip := net.ParseIP(hostname); ip != nil {
		if ip.To4() != nil {
			result.A = []string{ip.String()}
		} else {
			result.AAAA = []string{ip.String()}
		}
		return result
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errors []string
	)

	record := func(name string, err error, apply func()) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if !isNotFoundError(err) {
				errors = append(errors, fmt.Sprintf("%s: %s", name, categorizeError(err)))
			}
			return
		}
		apply()
	}

	wg.Add(4)
	go func() {
		defer wg.Done()
		v, err := c.QueryA(ctx, hostname)
		record("A", err, func() { result.A = v })
	}()
	go func() {
		defer wg.Done()
		v, err := c.QueryAAAA(ctx, hostname)
		record("AAAA", err, func() { result.AAAA = v })
	}()
	go func() {
		defer wg.Done()
		v, err := c.QueryCNAME(ctx, hostname)
		record("CNAME", err, func() { result.CNAME = v })
	}()
	go func() {
		defer wg.Done()
		v, err := c.QueryNS(ctx, hostname)
		record("NS", err, func() { result.NS = v })
	}()
	wg.Wait()

	if len(errors) > 0 {
		sort.Strings(errors)
		result.Error = strings.Join(errors, "; ")
	}
	return result
}

// QueryA returns A records (IPv4 addresses) for a hostname
func (c *Client) QueryA(ctx context.Context, hostname string) ([]string, error) {
	return c.queryAddrs(ctx, hostname, dns.TypeA)
}

// QueryAAAA returns AAAA records (IPv6 addresses) for a hostname
func (c *Client) QueryAAAA(ctx context.Context, hostname string) ([]string, error) {
	return c.queryAddrs(ctx, hostname, dns.TypeAAAA)
}

func (c *Client) queryAddrs(ctx context.Context, hostname string, qtype uint16) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), qtype)

	resp, err := c.query(ctx, msg)
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, ans := range resp.Answer {
		switch rr := ans.(type) {
		case *dns.A:
			ips = append(ips, rr.A.String())
		case *dns.AAAA:
			ips = append(ips, rr.AAAA.String())
		}
	}

	sort.Strings(ips)
	return ips, nil
}

// QueryNS returns NS records for a hostname
func (c *Client) QueryNS(ctx context.Context, hostname string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), dns.TypeNS)

	resp, err := c.query(ctx, msg)
	if err != nil {
		return nil, err
	}

	var records []string
	for _, ans := range resp.Answer {
		if ns, ok := ans.(*dns.NS); ok {
			records = append(records, strings.TrimSuffix(ns.Ns, "."))
		}
	}

	sort.Strings(records)
	return records, nil
}

// QueryCNAME returns the CNAME target for a hostname
func (c *Client) QueryCNAME(ctx context.Context, hostname string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), dns.TypeCNAME)

	resp, err := c.query(ctx, msg)
	if err != nil {
		return "", err
	}

	for _, ans := range resp.Answer {
		if cname, ok := ans.(*dns.CNAME); ok {
			return strings.TrimSuffix(cname.Target, "."), nil
		}
	}
	return "", nil
}

// query performs a DNS query with retry logic
func (c *Client) query(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	client := &dns.Client{
		Timeout: c.timeout,
		Net:     "udp",
	}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, server := range c.dnsServers {
			resp, _, err := client.ExchangeContext(ctx, msg, server)
			if err != nil {
				lastErr = err
				continue
			}
			if resp.Rcode == dns.RcodeNameError {
				return nil, fmt.Errorf("NXDOMAIN")
			}
			if resp.Rcode != dns.RcodeSuccess {
				lastErr = fmt.Errorf("DNS error: %s", dns.RcodeToString[resp.Rcode])
				continue
			}
			return resp, nil
		}

		if attempt < c.retries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
			}
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("DNS query failed after %d attempts: %w", c.retries, lastErr)
	}
	return nil, fmt.Errorf("DNS query failed after %d attempts", c.retries)
}

// isNotFoundError checks if the error indicates no records were found
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NXDOMAIN") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "Name Error")
}

// categorizeError shortens resolver errors for display
func categorizeError(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "NXDOMAIN"):
		return "domain not found (NXDOMAIN)"
	case strings.Contains(errStr, "SERVFAIL"):
		return "server failure (SERVFAIL)"
	case strings.Contains(errStr, "REFUSED"):
		return "query refused"
	case strings.Contains(errStr, "no such host"):
		return "host not found"
	case strings.Contains(errStr, "i/o timeout"):
		return "DNS query timeout"
	case strings.Contains(errStr, "connection refused"):
		return "DNS server connection refused"
	default:
		return errStr
	}
}
