// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package model

import (
	"fmt"
	"net/netip"
	"strings"
)

// RawData is the source-specific payload produced by one resolver attempt.
// Shapes vary per source; only the normalizer is allowed to assume them.
type RawData map[string]any

// Record is the canonical result of an IP ownership lookup. Empty string
// means the field is absent; Raw holds the original source payload.
type Record struct {
	IP           string  `json:"ip,omitempty" msgpack:"ip"`
	Network      string  `json:"network,omitempty" msgpack:"network"`
	ASN          string  `json:"asn,omitempty" msgpack:"asn"`
	Organization string  `json:"organization,omitempty" msgpack:"organization"`
	Country      string  `json:"country,omitempty" msgpack:"country"`
	City         string  `json:"city,omitempty" msgpack:"city"`
	Registered   string  `json:"registered,omitempty" msgpack:"registered"`
	Source       string  `json:"source,omitempty" msgpack:"source"`
	Raw          RawData `json:"raw,omitempty" msgpack:"raw"`
}

// Clone returns a copy of the record. The Raw map is copied one level deep,
// which is enough to keep merge from mutating its inputs.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Raw != nil {
		out.Raw = make(RawData, len(r.Raw))
		for k, v := range r.Raw {
			out.Raw[k] = v
		}
	}
	return &out
}

// Failure pairs an IP with the reason its lookup failed.
type Failure struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

// BatchOutcome collects the results of a batch run. A single IP's failure
// never aborts the batch; it lands in Failures instead.
type BatchOutcome struct {
	Results  []*Record
	Failures []Failure
}

// CanonicalIP validates an IP string and returns its canonical form.
func CanonicalIP(s string) (string, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, s)
	}
	return addr.String(), nil
}

// ValidIP reports whether s parses as an IPv4 or IPv6 address.
func ValidIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

// FilterValidIPs drops strings that do not parse as IP addresses and returns
// the survivors in canonical form, preserving input order.
func FilterValidIPs(ips []string) (valid []string, dropped []string) {
	for _, ip := range ips {
		canon, err := CanonicalIP(ip)
		if err != nil {
			dropped = append(dropped, ip)
			continue
		}
		valid = append(valid, canon)
	}
	return valid, dropped
}

// Error is a sentinel error type for common failure conditions
type Error string

func (e Error) Error() string {
	return string(e)
}

// Common errors
const (
	ErrInvalidIP   Error = "invalid IP address"
	ErrReservedIP  Error = "IP address is reserved or private"
	ErrRateLimited Error = "rate limited by upstream service"
	ErrNoData      Error = "no data returned by source"
	ErrStoreClosed Error = "cache store is closed"
)

// LookupError reports that one resolver gave up after exhausting its retries.
type LookupError struct {
	Resolver string
	Err      error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup with %s failed: %v", e.Resolver, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// AllFailedError reports that every resolver in the configured chain failed
// for one IP. Reasons holds each resolver's failure message in chain order.
type AllFailedError struct {
	IP      string
	Reasons []string
}

func (e *AllFailedError) Error() string {
	return fmt.Sprintf("all lookup methods failed for %s: %s", e.IP, strings.Join(e.Reasons, "; "))
}
