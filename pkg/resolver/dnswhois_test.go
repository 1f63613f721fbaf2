package resolver

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dns.google", "dns.google"},
		{"edge-star-mini.facebook.com", "facebook.com"},
		{"localhost", ""},
		{"a.b.c.example.org", "example.org"},
	}

	for _, tt := range tests {
		if got := registrableDomain(tt.in); got != tt.want {
			t.Errorf("registrableDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseWhoisText(t *testing.T) {
	text := "% comment line\n" +
		"refer: whois.verisign-grs.com\n" +
		"Creation Date: 1997-09-15T04:00:00Z\n" +
		"Registrant Organization: Google LLC\n" +
		"Registrant Organization: Duplicate Ignored\n" +
		"no-colon-line\n"

	fields := parseWhoisText(text)
	if got := fields["refer"]; got != "whois.verisign-grs.com" {
		t.Errorf("fields[refer] = %q", got)
	}
	if got := fields["registrant organization"]; got != "Google LLC" {
		t.Errorf("fields[registrant organization] = %q, want first occurrence", got)
	}
	if got := fields["creation date"]; got != "1997-09-15T04:00:00Z" {
		t.Errorf("fields[creation date] = %q", got)
	}
}

// scriptedDial returns a dial function that serves canned whois responses,
// keyed by host, over an in-memory pipe.
func scriptedDial(t *testing.T, responses map[string]string) func(ctx context.Context, host string) (net.Conn, error) {
	t.Helper()
	return func(ctx context.Context, host string) (net.Conn, error) {
		response, ok := responses[host]
		if !ok {
			t.Errorf("unexpected whois dial to %q", host)
		}
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			buf := make([]byte, 256)
			server.Read(buf)
			io.WriteString(server, response)
		}()
		return client, nil
	}
}

func TestDomainWhoisFollowsReferral(t *testing.T) {
	r := NewDNSWhois(Config{RateLimit: time.Millisecond, RetryDelay: time.Millisecond})
	r.dial = scriptedDial(t, map[string]string{
		ianaWhoisHost: "refer: whois.example-registry.net\n",
		"whois.example-registry.net": "Registrant Organization: Example Org\n" +
			"Registrant Country: US\n" +
			"Creation Date: 2001-02-03T04:05:06Z\n",
	})

	text, err := r.domainWhois(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("domainWhois failed: %v", err)
	}

	fields := parseWhoisText(text)
	if got := fields["registrant organization"]; got != "Example Org" {
		t.Errorf("got organization %q, want referred server's answer", got)
	}
}

func TestDomainWhoisNoReferral(t *testing.T) {
	r := NewDNSWhois(Config{RateLimit: time.Millisecond, RetryDelay: time.Millisecond})
	r.dial = scriptedDial(t, map[string]string{
		ianaWhoisHost: "organisation: IANA Direct Answer\n",
	})

	text, err := r.domainWhois(context.Background(), "example.arpa")
	if err != nil {
		t.Fatalf("domainWhois failed: %v", err)
	}
	if got := parseWhoisText(text)["organisation"]; got != "IANA Direct Answer" {
		t.Errorf("got %q, want the direct IANA answer", got)
	}
}
