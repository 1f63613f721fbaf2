package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/wingedpig/ipmeta/pkg/model"
)

const defaultWhoisPath = "/usr/bin/whois"

// fieldPatterns maps normalizer fields to regular-expression alternatives
// tried in order against each output line. The first match per field wins;
// later lines never overwrite an already-set field.
var fieldPatterns = map[string][]*regexp.Regexp{
	"organization": {
		regexp.MustCompile(`(?i)(?:Organization|Org(?:anization)? Name):\s*(.+)$`),
		regexp.MustCompile(`(?i)(?:descr|owner):\s*(.+)$`),
	},
	"country": {
		regexp.MustCompile(`(?i)(?:Country|Country Code):\s*(.+)$`),
	},
	"asn": {
		regexp.MustCompile(`(?i)(?:OriginAS|Origin AS|ASNumber|ASN):\s*(.+)$`),
		regexp.MustCompile(`(?i)origin:\s*(AS\d+)$`),
	},
	"network": {
		regexp.MustCompile(`(?i)(?:CIDR|NetRange|Network):\s*(.+)$`),
		regexp.MustCompile(`(?i)inet6?num:\s*(.+)$`),
	},
	"registered": {
		regexp.MustCompile(`(?i)(?:RegDate|Created|Registration Date):\s*(.+)$`),
	},
}

// SystemResolver shells out to the system whois client and parses its
// semi-structured text output. A non-zero exit code is tolerated as long as
// the command produced output; empty output or a timeout is a failure.
type SystemResolver struct {
	base
	whoisPath string
	timeout   time.Duration
}

// NewSystem creates the external-whois-client resolver.
func NewSystem(cfg Config) *SystemResolver {
	path := cfg.WhoisPath
	if path == "" {
		path = defaultWhoisPath
	}
	return &SystemResolver{
		base:      newBase("system", DefaultSystemInterval, cfg),
		whoisPath: path,
		timeout:   cfg.timeout(),
	}
}

func (r *SystemResolver) Lookup(ctx context.Context, ip string) (*model.Record, error) {
	return r.run(ctx, ip, r.perform)
}

func (r *SystemResolver) perform(ctx context.Context, ip string) (model.RawData, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, r.whoisPath, ip)
	// Without WaitDelay, a killed whois that leaked its stdout pipe to a
	// child would make Run block until the child exits, defeating the
	// timeout above.
	cmd.WaitDelay = r.timeout
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("whois command timed out after %s", r.timeout)
	}
	if stdout.Len() == 0 {
		if runErr != nil {
			return nil, fmt.Errorf("whois command failed: %w (%s)", runErr, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: whois produced no output for %s", model.ErrNoData, ip)
	}

	// Non-zero exit with output is fine; some whois servers exit 1 on
	// partial answers that still carry the fields we want.
	return ParseWhoisOutput(stdout.String(), ip), nil
}

// ParseWhoisOutput extracts known fields from raw whois text. The full text
// is preserved under "raw_output" for diagnostics and export.
func ParseWhoisOutput(output, ip string) model.RawData {
	raw := model.RawData{"ip": ip}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}

		for field, patterns := range fieldPatterns {
			if _, done := raw[field]; done {
				continue
			}
			for _, pattern := range patterns {
				if m := pattern.FindStringSubmatch(line); m != nil {
					raw[field] = strings.TrimSpace(m[1])
					break
				}
			}
		}
	}

	raw["raw_output"] = output
	return raw
}
