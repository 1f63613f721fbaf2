// Package normalize maps heterogeneous raw resolver payloads into the
// canonical Record shape and merges records from multiple sources.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/wingedpig/ipmeta/pkg/model"
)

// timeLayout is the canonical output format for registration dates.
const timeLayout = "2006-01-02 15:04:05"

var (
	asnPattern    = regexp.MustCompile(`AS(\d+)`)
	digitsPattern = regexp.MustCompile(`(\d+)`)
)

// Normalize converts a raw resolver payload into a Record. Each field is
// extracted independently; a missing field stays empty, never errors. Source
// is always the resolver label and Raw always holds the original payload.
func Normalize(raw model.RawData, source string) *model.Record {
	rec := &model.Record{
		Source: source,
		Raw:    raw,
	}
	if raw == nil {
		return rec
	}

	// IP
	if v, ok := raw["ip"]; ok {
		rec.IP = asString(v)
	} else if v, ok := raw["query"]; ok {
		rec.IP = asString(v)
	}

	// Network: nested network object first, then flat fields
	if netObj, ok := raw["network"].(map[string]any); ok {
		if cidr := asString(netObj["cidr"]); cidr != "" {
			rec.Network = cidr
		} else {
			start := asString(netObj["start_address"])
			end := asString(netObj["end_address"])
			if start != "" && end != "" {
				rec.Network = fmt.Sprintf("%s-%s", start, end)
			}
		}
	} else if v, ok := raw["cidr"]; ok {
		rec.Network = asString(v)
	} else if v, ok := raw["network"]; ok {
		rec.Network = asString(v)
	}

	// ASN
	if v, ok := raw["asn"]; ok {
		rec.ASN = ExtractASN(asString(v))
	}

	// Organization
	if v, ok := raw["org"]; ok {
		rec.Organization = ExtractOrganization(v)
	} else if v, ok := raw["organization"]; ok {
		rec.Organization = ExtractOrganization(v)
	} else if nets, ok := raw["nets"].([]any); ok {
		for _, n := range nets {
			if netMap, ok := n.(map[string]any); ok {
				if desc := ExtractOrganization(netMap["description"]); desc != "" {
					rec.Organization = desc
					break
				}
			}
		}
	}

	// Location
	if v, ok := raw["country"]; ok {
		rec.Country = ExtractCountry(v)
	} else if v, ok := raw["asn_country_code"]; ok {
		rec.Country = ExtractCountry(v)
	}
	if v, ok := raw["city"]; ok {
		rec.City = ExtractCity(v)
	}

	// Registration date
	if v, ok := raw["registered"]; ok {
		rec.Registered = FormatTimestamp(v)
	} else if v, ok := raw["created"]; ok {
		rec.Registered = FormatTimestamp(v)
	}

	return rec
}

// ExtractASN pulls the numeric ASN out of a string like "AS15169" or
// "AS15169 Google LLC". Falls back to the first run of digits.
func ExtractASN(s string) string {
	if s == "" {
		return ""
	}
	if m := asnPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if m := digitsPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

// ExtractOrganization accepts a bare string or a mapping with one of the
// usual organization keys.
func ExtractOrganization(v any) string {
	switch org := v.(type) {
	case string:
		return strings.TrimSpace(org)
	case map[string]any:
		for _, key := range []string{"name", "org", "organization", "orgName"} {
			if s := asString(org[key]); s != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// ExtractCountry accepts a bare string or a mapping with a country key.
func ExtractCountry(v any) string {
	switch loc := v.(type) {
	case string:
		return strings.TrimSpace(loc)
	case map[string]any:
		for _, key := range []string{"country", "cc", "countryCode", "country_code"} {
			if s := asString(loc[key]); s != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// ExtractCity accepts only a mapping; a bare string is ambiguous with a
// country name and yields nothing.
func ExtractCity(v any) string {
	if loc, ok := v.(map[string]any); ok {
		for _, key := range []string{"city", "cityName", "city_name"} {
			if s := asString(loc[key]); s != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// FormatTimestamp renders an epoch number or a date string in the canonical
// "2006-01-02 15:04:05" format. Unparsable input is passed through verbatim
// rather than dropped.
func FormatTimestamp(v any) string {
	switch ts := v.(type) {
	case nil:
		return ""
	case int:
		return time.Unix(int64(ts), 0).UTC().Format(timeLayout)
	case int64:
		return time.Unix(ts, 0).UTC().Format(timeLayout)
	case float64:
		return time.Unix(int64(ts), 0).UTC().Format(timeLayout)
	case string:
		if ts == "" {
			return ""
		}
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05",
			timeLayout,
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, ts); err == nil {
				return t.Format(timeLayout)
			}
		}
		return ts
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Merge combines records for the same IP from multiple resolvers. The first
// record wins ties; later records only fill fields the running result still
// has empty. Source becomes the comma-joined list of every contributing
// source label, in order. Raw is kept from the first record only.
func Merge(records []*model.Record) *model.Record {
	if len(records) == 0 {
		return nil
	}

	merged := records[0].Clone()
	sources := []string{merged.Source}

	for _, rec := range records[1:] {
		sources = append(sources, rec.Source)

		fill(&merged.IP, rec.IP)
		fill(&merged.Network, rec.Network)
		fill(&merged.ASN, rec.ASN)
		fill(&merged.Organization, rec.Organization)
		fill(&merged.Country, rec.Country)
		fill(&merged.City, rec.City)
		fill(&merged.Registered, rec.Registered)
	}

	merged.Source = strings.Join(sources, ", ")
	return merged
}

func fill(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
