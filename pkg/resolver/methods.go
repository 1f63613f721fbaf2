package resolver

import "fmt"

// Lookup method labels. The variant set is closed; "auto" expands to every
// variant in priority order.
const (
	MethodAuto     = "auto"
	MethodRDAP     = "rdap"
	MethodDNSWhois = "dns-whois"
	MethodSystem   = "system"
)

// CanonicalMethod validates a configured method name and maps the
// primary/fallback aliases onto their concrete resolvers.
func CanonicalMethod(method string) (string, error) {
	switch method {
	case "", MethodAuto:
		return MethodAuto, nil
	case MethodRDAP, "primary":
		return MethodRDAP, nil
	case MethodDNSWhois, "fallback":
		return MethodDNSWhois, nil
	case MethodSystem:
		return MethodSystem, nil
	}
	return "", fmt.Errorf("unknown lookup method %q", method)
}

// ForMethod builds the resolver chain for a canonical method. Auto mode
// returns every variant in priority order: the registry path first, then
// the reverse-DNS path, then the system whois client.
func ForMethod(method string, cfg Config) ([]Resolver, error) {
	canon, err := CanonicalMethod(method)
	if err != nil {
		return nil, err
	}

	switch canon {
	case MethodRDAP:
		return []Resolver{NewRDAP(cfg)}, nil
	case MethodDNSWhois:
		return []Resolver{NewDNSWhois(cfg)}, nil
	case MethodSystem:
		return []Resolver{NewSystem(cfg)}, nil
	default:
		return []Resolver{NewRDAP(cfg), NewDNSWhois(cfg), NewSystem(cfg)}, nil
	}
}
