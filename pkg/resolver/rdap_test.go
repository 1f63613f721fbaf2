// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wingedpig/ipmeta/pkg/model"
)

const rdapFixture = `{
	"handle": "NET-8-8-8-0-2",
	"startAddress": "8.8.8.0",
	"endAddress": "8.8.8.255",
	"name": "GOGL",
	"country": "US",
	"cidr0_cidrs": [{"v4prefix": "8.8.8.0", "length": 24}],
	"arin_originas0_originautnums": [15169],
	"entities": [{
		"handle": "GOGL",
		"roles": ["registrant"],
		"vcardArray": ["vcard", [
			["version", {}, "text", "4.0"],
			["fn", {}, "text", "Google LLC"]
		]]
	}],
	"events": [
		{"eventAction": "registration", "eventDate": "2014-03-14T00:00:00Z"},
		{"eventAction": "last changed", "eventDate": "2015-01-01T00:00:00Z"}
	]
}`

const registryFixture = `{
	"data": {
		"records": [[
			{"key": "inetnum", "value": "8.8.8.0 - 8.8.8.255"},
			{"key": "descr", "value": "Google LLC"},
			{"key": "country", "value": "US"},
			{"key": "origin", "value": "AS15169"},
			{"key": "created", "value": "2014-03-14T00:00:00Z"}
		]]
	}
}`

func testRDAP(t *testing.T, rdapHandler, registryHandler http.HandlerFunc) *RDAPResolver {
	t.Helper()

	rdapSrv := httptest.NewServer(rdapHandler)
	t.Cleanup(rdapSrv.Close)
	regSrv := httptest.NewServer(registryHandler)
	t.Cleanup(regSrv.Close)

	return NewRDAP(Config{
		BaseURL:     rdapSrv.URL,
		RegistryURL: regSrv.URL,
		RateLimit:   time.Millisecond,
		RetryDelay:  time.Millisecond,
	})
}

func TestRDAPLookup(t *testing.T) {
	r := testRDAP(t,
		func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path != "/ip/8.8.8.8" {
				t.Errorf("got path %q, want /ip/8.8.8.8", req.URL.Path)
			}
			if got := req.Header.Get("Accept"); got != "application/rdap+json" {
				t.Errorf("got Accept %q, want application/rdap+json", got)
			}
			w.Write([]byte(rdapFixture))
		},
		func(w http.ResponseWriter, req *http.Request) {
			t.Error("registry fallback should not be hit when RDAP succeeds")
		},
	)

	rec, err := r.Lookup(context.Background(), "8.8.8.8")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	if rec.IP != "8.8.8.8" {
		t.Errorf("got IP %q, want 8.8.8.8", rec.IP)
	}
	if rec.Network != "8.8.8.0/24" {
		t.Errorf("got network %q, want 8.8.8.0/24", rec.Network)
	}
	if rec.ASN != "15169" {
		t.Errorf("got ASN %q, want 15169", rec.ASN)
	}
	if rec.Organization != "Google LLC" {
		t.Errorf("got organization %q, want Google LLC", rec.Organization)
	}
	if rec.Country != "US" {
		t.Errorf("got country %q, want US", rec.Country)
	}
	if rec.Registered != "2014-03-14 00:00:00" {
		t.Errorf("got registered %q, want 2014-03-14 00:00:00", rec.Registered)
	}
	if rec.Source != "rdap" {
		t.Errorf("got source %q, want rdap", rec.Source)
	}
}

func TestRDAPRegistryFallback(t *testing.T) {
	r := testRDAP(t,
		func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		func(w http.ResponseWriter, req *http.Request) {
			if got := req.URL.Query().Get("resource"); got != "8.8.8.8" {
				t.Errorf("got resource %q, want 8.8.8.8", got)
			}
			w.Write([]byte(registryFixture))
		},
	)

	rec, err := r.Lookup(context.Background(), "8.8.8.8")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.Organization != "Google LLC" {
		t.Errorf("got organization %q, want Google LLC from registry record", rec.Organization)
	}
	if rec.Network != "8.8.8.0 - 8.8.8.255" {
		t.Errorf("got network %q, want inetnum value", rec.Network)
	}
	if rec.ASN != "15169" {
		t.Errorf("got ASN %q, want 15169", rec.ASN)
	}
}

func TestRDAPAllSourcesFail(t *testing.T) {
	r := testRDAP(t,
		func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
		func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, "also boom", http.StatusBadGateway)
		},
	)

	_, err := r.Lookup(context.Background(), "8.8.8.8")
	var lerr *model.LookupError
	if !errors.As(err, &lerr) {
		t.Fatalf("got %T, want *model.LookupError", err)
	}
	if lerr.Resolver != "rdap" {
		t.Errorf("got resolver %q, want rdap", lerr.Resolver)
	}
}

func TestRDAPReservedIP(t *testing.T) {
	r := testRDAP(t,
		func(w http.ResponseWriter, req *http.Request) {
			t.Error("no HTTP request expected for a reserved address")
		},
		func(w http.ResponseWriter, req *http.Request) {
			t.Error("no HTTP request expected for a reserved address")
		},
	)

	for _, ip := range []string{"192.168.1.1", "10.0.0.1", "127.0.0.1"} {
		_, err := r.Lookup(context.Background(), ip)
		if !errors.Is(err, model.ErrReservedIP) {
			t.Errorf("Lookup(%q): got %v, want ErrReservedIP", ip, err)
		}
	}
}

func TestRDAPEntityNameFallsBackToNetworkName(t *testing.T) {
	fixture := `{
		"startAddress": "198.51.100.0",
		"endAddress": "198.51.100.255",
		"name": "EXAMPLE-NET",
		"country": "NL",
		"entities": []
	}`
	r := testRDAP(t,
		func(w http.ResponseWriter, req *http.Request) {
			w.Write([]byte(fixture))
		},
		func(w http.ResponseWriter, req *http.Request) {},
	)

	rec, err := r.Lookup(context.Background(), "198.51.100.7")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.Organization != "EXAMPLE-NET" {
		t.Errorf("got organization %q, want network name fallback", rec.Organization)
	}
	if rec.Network != "198.51.100.0-198.51.100.255" {
		t.Errorf("got network %q, want synthesized start-end range", rec.Network)
	}
}
