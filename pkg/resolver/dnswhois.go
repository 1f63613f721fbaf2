package resolver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/wingedpig/ipmeta/pkg/model"
)

const ianaWhoisHost = "whois.iana.org"

// DNSWhoisResolver is the best-effort fallback path: reverse-DNS the IP to
// a hostname, then run a domain whois query for the registrable domain.
// Useful when the registry record is thin but the operator's domain
// registration is not.
type DNSWhoisResolver struct {
	base
	timeout  time.Duration
	resolver *net.Resolver

	// dial is swapped in tests to avoid real whois traffic.
	dial func(ctx context.Context, host string) (net.Conn, error)
}

// NewDNSWhois creates the reverse-DNS + domain-whois fallback resolver.
func NewDNSWhois(cfg Config) *DNSWhoisResolver {
	timeout := cfg.timeout()
	dialer := &net.Dialer{Timeout: timeout}

	return &DNSWhoisResolver{
		base:     newBase("dns-whois", DefaultDNSWhoisInterval, cfg),
		timeout:  timeout,
		resolver: &net.Resolver{},
		dial: func(ctx context.Context, host string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "43"))
		},
	}
}

func (r *DNSWhoisResolver) Lookup(ctx context.Context, ip string) (*model.Record, error) {
	return r.run(ctx, ip, r.perform)
}

func (r *DNSWhoisResolver) perform(ctx context.Context, ip string) (model.RawData, error) {
	names, err := r.resolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return nil, fmt.Errorf("could not resolve %s to a domain: %v", ip, err)
	}

	hostname := strings.TrimSuffix(names[0], ".")
	domain := registrableDomain(hostname)
	if domain == "" {
		return nil, fmt.Errorf("no registrable domain in hostname %q", hostname)
	}

	text, err := r.domainWhois(ctx, domain)
	if err != nil {
		return nil, err
	}

	fields := parseWhoisText(text)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no whois record for domain %s", model.ErrNoData, domain)
	}

	raw := model.RawData{
		"ip":         ip,
		"domain":     domain,
		"hostname":   hostname,
		"raw_output": text,
	}
	if v := firstField(fields, "registrant organization", "org", "organisation", "organization"); v != "" {
		raw["organization"] = v
	}
	if v := firstField(fields, "registrant country", "country"); v != "" {
		raw["country"] = v
	}
	if v := firstField(fields, "creation date", "created", "registered"); v != "" {
		raw["created"] = v
	}
	return raw, nil
}

// domainWhois queries IANA for the domain and follows a single "refer:"
// redirect to the authoritative server.
func (r *DNSWhoisResolver) domainWhois(ctx context.Context, domain string) (string, error) {
	text, err := r.whoisQuery(ctx, ianaWhoisHost, domain)
	if err != nil {
		return "", err
	}

	if refer := firstField(parseWhoisText(text), "refer", "whois"); refer != "" {
		referred, err := r.whoisQuery(ctx, refer, domain)
		if err == nil && referred != "" {
			return referred, nil
		}
	}
	return text, nil
}

func (r *DNSWhoisResolver) whoisQuery(ctx context.Context, host, query string) (string, error) {
	conn, err := r.dial(ctx, host)
	if err != nil {
		return "", fmt.Errorf("whois dial %s failed: %w", host, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(r.timeout))

	if _, err := fmt.Fprintf(conn, "%s\r\n", query); err != nil {
		return "", fmt.Errorf("whois query to %s failed: %w", host, err)
	}

	data, err := io.ReadAll(conn)
	if err != nil && len(data) == 0 {
		return "", fmt.Errorf("whois read from %s failed: %w", host, err)
	}
	return string(data), nil
}

// registrableDomain reduces a hostname to its last two labels. Crude for
// multi-part public suffixes, but registry whois answers sensibly either way.
func registrableDomain(hostname string) string {
	labels := strings.Split(hostname, ".")
	if len(labels) < 2 {
		return ""
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// parseWhoisText splits a whois response into lowercase key to value pairs.
// The first occurrence of a key wins; comment lines are skipped.
func parseWhoisText(text string) map[string]string {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if _, seen := fields[key]; !seen {
			fields[key] = value
		}
	}
	return fields
}

func firstField(fields map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := fields[key]; v != "" {
			return v
		}
	}
	return ""
}
