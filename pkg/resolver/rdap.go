// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/netip"
	"strings"

	"github.com/wingedpig/ipmeta/pkg/model"
)

const (
	defaultRDAPURL     = "https://rdap.org"
	defaultRegistryURL = "https://stat.ripe.net"
)

// RDAPResolver is the primary resolver. It queries an RDAP bootstrap
// endpoint for authoritative network/organization data and falls back to a
// registry whois API internally before giving up on an attempt.
type RDAPResolver struct {
	base
	baseURL     string
	registryURL string
	userAgent   string
	httpClient  *http.Client
}

// NewRDAP creates the primary RDAP resolver.
func NewRDAP(cfg Config) *RDAPResolver {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultRDAPURL
	}
	registryURL := cfg.RegistryURL
	if registryURL == "" {
		registryURL = defaultRegistryURL
	}

	return &RDAPResolver{
		base:        newBase("rdap", DefaultRDAPInterval, cfg),
		baseURL:     baseURL,
		registryURL: registryURL,
		userAgent:   cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: cfg.timeout(),
		},
	}
}

func (r *RDAPResolver) Lookup(ctx context.Context, ip string) (*model.Record, error) {
	return r.run(ctx, ip, r.perform)
}

func (r *RDAPResolver) perform(ctx context.Context, ip string) (model.RawData, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, model.ErrInvalidIP
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsMulticast() || addr.IsUnspecified() {
		return nil, fmt.Errorf("%w: %s", model.ErrReservedIP, ip)
	}

	raw, rdapErr := r.queryRDAP(ctx, ip)
	if rdapErr == nil {
		return raw, nil
	}
	if rdapErr == model.ErrRateLimited {
		return nil, rdapErr
	}

	// Registry whois fallback before reporting this attempt as failed
	log.Printf("WARN: RDAP query failed for %s, trying registry whois: %v", ip, rdapErr)
	raw, regErr := r.queryRegistry(ctx, ip)
	if regErr != nil {
		return nil, fmt.Errorf("registry lookup failed: %v (rdap: %v)", regErr, rdapErr)
	}
	return raw, nil
}

// queryRDAP fetches and flattens an RDAP IP network object.
func (r *RDAPResolver) queryRDAP(ctx context.Context, ip string) (model.RawData, error) {
	url := fmt.Sprintf("%s/ip/%s", r.baseURL, ip)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		log.Printf("WARN: Rate limited by RDAP server for %s", ip)
		return nil, model.ErrRateLimited
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: no RDAP object for %s", model.ErrNoData, ip)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response rdapResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse RDAP response: %w", err)
	}

	return response.flatten(ip), nil
}

// queryRegistry is the internal whois fallback, a RIPEstat-style API that
// serves plain whois key-value records over JSON.
func (r *RDAPResolver) queryRegistry(ctx context.Context, ip string) (model.RawData, error) {
	url := fmt.Sprintf("%s/data/whois/data.json?resource=%s", r.registryURL, ip)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, model.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result registryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse registry response: %w", err)
	}

	raw := result.flatten(ip)
	if len(raw) <= 1 {
		return nil, fmt.Errorf("%w: empty registry record for %s", model.ErrNoData, ip)
	}
	return raw, nil
}

// rdapResponse is an RDAP IP network object, including the cidr0 and ARIN
// origin-AS extensions where the registry provides them.
type rdapResponse struct {
	Handle       string        `json:"handle"`
	StartAddress string        `json:"startAddress"`
	EndAddress   string        `json:"endAddress"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Country      string        `json:"country"`
	Entities     []rdapEntity  `json:"entities"`
	Events       []rdapEvent   `json:"events"`
	CIDRs        []rdapCIDR    `json:"cidr0_cidrs"`
	OriginASNs   []json.Number `json:"arin_originas0_originautnums"`
	Port43       string        `json:"port43"`
}

type rdapEntity struct {
	Handle     string       `json:"handle"`
	Roles      []string     `json:"roles"`
	VCardArray []any        `json:"vcardArray"`
	Entities   []rdapEntity `json:"entities"`
}

type rdapEvent struct {
	EventAction string `json:"eventAction"`
	EventDate   string `json:"eventDate"`
}

type rdapCIDR struct {
	V4Prefix string `json:"v4prefix"`
	V6Prefix string `json:"v6prefix"`
	Length   int    `json:"length"`
}

// flatten converts the RDAP object into the raw mapping consumed by the
// normalizer.
func (r *rdapResponse) flatten(ip string) model.RawData {
	raw := model.RawData{"ip": ip}

	network := map[string]any{}
	if len(r.CIDRs) > 0 {
		c := r.CIDRs[0]
		if c.V4Prefix != "" {
			network["cidr"] = fmt.Sprintf("%s/%d", c.V4Prefix, c.Length)
		} else if c.V6Prefix != "" {
			network["cidr"] = fmt.Sprintf("%s/%d", c.V6Prefix, c.Length)
		}
	}
	if r.StartAddress != "" {
		network["start_address"] = r.StartAddress
	}
	if r.EndAddress != "" {
		network["end_address"] = r.EndAddress
	}
	if len(network) > 0 {
		raw["network"] = network
	}

	if len(r.OriginASNs) > 0 {
		raw["asn"] = "AS" + r.OriginASNs[0].String()
	}

	if org := r.organization(); org != "" {
		raw["org"] = org
	} else if r.Name != "" {
		raw["org"] = r.Name
	}

	if r.Country != "" {
		raw["country"] = r.Country
	}
	if r.Name != "" {
		raw["name"] = r.Name
	}

	for _, ev := range r.Events {
		if ev.EventAction == "registration" {
			raw["registered"] = ev.EventDate
			break
		}
	}

	return raw
}

// organization picks the best entity name, preferring registrant roles and
// skipping maintainer handles.
func (r *rdapResponse) organization() string {
	var fallback string
	for i := range r.Entities {
		entity := &r.Entities[i]
		if strings.HasSuffix(entity.Handle, "-MNT") {
			continue
		}
		name := entityName(entity)
		if name == "" {
			for j := range entity.Entities {
				if name = entityName(&entity.Entities[j]); name != "" {
					break
				}
			}
		}
		if name == "" {
			continue
		}
		for _, role := range entity.Roles {
			if strings.EqualFold(role, "registrant") {
				return name
			}
		}
		if fallback == "" {
			fallback = name
		}
	}
	return fallback
}

// entityName extracts a display name from an entity's vCard.
// vCard format: ["vcard", [["version", {}, "text", "4.0"], ["fn", {}, "text", "Name"], ...]]
func entityName(entity *rdapEntity) string {
	if len(entity.VCardArray) < 2 {
		return ""
	}
	fields, ok := entity.VCardArray[1].([]any)
	if !ok {
		return ""
	}
	for _, field := range fields {
		parts, ok := field.([]any)
		if !ok || len(parts) < 4 {
			continue
		}
		key, ok := parts[0].(string)
		if !ok || (key != "fn" && key != "org") {
			continue
		}
		if name, ok := parts[3].(string); ok && name != "" {
			return name
		}
	}
	return ""
}

// registryResponse is the whois-fallback API shape: records of key-value
// pairs under a data envelope.
type registryResponse struct {
	Data struct {
		Records [][]struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"records"`
	} `json:"data"`
}

// flatten collapses the first record group into the raw mapping, mapping
// well-known whois attributes onto normalizer fields.
func (r *registryResponse) flatten(ip string) model.RawData {
	raw := model.RawData{"ip": ip}

	for _, record := range r.Data.Records {
		for _, kv := range record {
			switch strings.ToLower(kv.Key) {
			case "inetnum", "inet6num", "netrange", "cidr":
				if _, ok := raw["network"]; !ok {
					raw["network"] = kv.Value
				}
			case "descr", "orgname", "org-name", "netname":
				if _, ok := raw["organization"]; !ok {
					raw["organization"] = kv.Value
				}
			case "country":
				if _, ok := raw["country"]; !ok {
					raw["country"] = kv.Value
				}
			case "origin", "originas":
				if _, ok := raw["asn"]; !ok {
					raw["asn"] = kv.Value
				}
			case "created", "regdate":
				if _, ok := raw["registered"]; !ok {
					raw["registered"] = kv.Value
				}
			}
		}
	}

	return raw
}
