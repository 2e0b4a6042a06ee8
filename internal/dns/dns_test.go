package dns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// startServer runs a local UDP resolver that answers for phish.example. and
// reports NXDOMAIN for everything else.
func startServer(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		if q.Name != "phish.example." {
			m.Rcode = dns.RcodeNameError
			_ = w.WriteMsg(m)
			return
		}
		hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 60}
		switch q.Qtype {
		case dns.TypeA:
			m.Answer = append(m.Answer,
				&dns.A{Hdr: hdr, A: net.ParseIP("192.0.2.20")},
				&dns.A{Hdr: hdr, A: net.ParseIP("192.0.2.10")})
		case dns.TypeAAAA:
			m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: net.ParseIP("2001:db8::1")})
		case dns.TypeNS:
			m.Answer = append(m.Answer,
				&dns.NS{Hdr: hdr, Ns: "ns2.registrar.example."},
				&dns.NS{Hdr: hdr, Ns: "ns1.registrar.example."})
		case dns.TypeCNAME:
			m.Answer = append(m.Answer, &dns.CNAME{Hdr: hdr, Target: "edge.cdn.example."})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("DNS server did not start")
	}
	return pc.LocalAddr().String()
}

func TestNewClient(t *testing.T) {
	client := NewClient(0)
	if client.timeout != defaultTimeout {
		t.Errorf("Expected default timeout %v, got %v", defaultTimeout, client.timeout)
	}
	if len(client.dnsServers) == 0 {
		t.Error("Expected DNS servers to be set")
	}

	for _, server := range client.dnsServers {
		if _, _, err := net.SplitHostPort(server); err != nil {
			t.Errorf("Server %s should have port: %v", server, err)
		}
	}
}

func TestHostFromURL(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"https://Phish.Example/login?x=1", "phish.example", false},
		{"http://phish.example:8080/", "phish.example", false},
		{"phish.example/path", "phish.example", false},
		{"http://192.0.2.1/", "192.0.2.1", false},
		{"", "", true},
		{"http:///nohost", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := HostFromURL(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HostFromURL(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("HostFromURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLookupURL(t *testing.T) {
	client := NewClientWithServers(2*time.Second, []string{startServer(t)})

	result := client.LookupURL(context.Background(), "https://phish.example/login")

	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if len(result.A) != 2 || result.A[0] != "192.0.2.10" {
		t.Errorf("A = %v, want sorted [192.0.2.10 192.0.2.20]", result.A)
	}
	if len(result.AAAA) != 1 || result.AAAA[0] != "2001:db8::1" {
		t.Errorf("AAAA = %v", result.AAAA)
	}
	if result.CNAME != "edge.cdn.example" {
		t.Errorf("CNAME = %q", result.CNAME)
	}
	if len(result.NS) != 2 || result.NS[0] != "ns1.registrar.example" {
		t.Errorf("NS = %v", result.NS)
	}
}

func TestLookupURLNotFound(t *testing.T) {
	client := NewClientWithServers(2*time.Second, []string{startServer(t)})

	result := client.LookupURL(context.Background(), "https://gone.example/")

	if result.Error != "" {
		t.Errorf("NXDOMAIN should not be reported as an error, got %q", result.Error)
	}
	if len(result.A) != 0 || len(result.NS) != 0 {
		t.Errorf("Expected no records, got %+v", result)
	}
}

func TestLookupURLIPLiteral(t *testing.T) {
	client := NewClientWithServers(time.Second, nil)

	result := client.LookupURL(context.Background(), "http://192.0.2.7/x")
	if len(result.A) != 1 || result.A[0] != "192.0.2.7" {
		t.Errorf("A = %v", result.A)
	}

	result = client.LookupURL(context.Background(), "not a url ://")
	if result.Error == "" {
		t.Error("Expected an error for an invalid url")
	}
}

func TestQueryCancelled(t *testing.T) {
	client := NewClientWithServers(time.Second, []string{"127.0.0.1:1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.QueryA(ctx, "phish.example")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"NXDOMAIN", errors.New("NXDOMAIN"), true},
		{"no such host", errors.New("no such host"), true},
		{"other error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFoundError(tt.err); got != tt.expected {
				t.Errorf("isNotFoundError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, ""},
		{errors.New("DNS error: SERVFAIL"), "server failure (SERVFAIL)"},
		{errors.New("read udp: i/o timeout"), "DNS query timeout"},
		{errors.New("something odd"), "something odd"},
	}

	for _, tt := range tests {
		if got := categorizeError(tt.err); got != tt.expected {
			t.Errorf("categorizeError(%v) = %q, want %q", tt.err, got, tt.expected)
		}
	}
}
