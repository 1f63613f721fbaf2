// Package geo enriches merged lookup records with MaxMind GeoLite2 data.
// Enrichment only fills fields the resolvers left empty and never touches
// the record's source label.
package geo

import (
	"fmt"
	"log"
	"net"
	"net/netip"
	"strconv"

	"github.com/oschwald/geoip2-golang"

	"github.com/wingedpig/ipmeta/pkg/model"
)

// Readers holds the open MaxMind database readers. Either may be nil when
// the corresponding database was not configured.
type Readers struct {
	City *geoip2.Reader
	ASN  *geoip2.Reader
}

// Open opens the configured MaxMind databases. Empty paths are skipped;
// if both are empty it returns (nil, nil) and enrichment is disabled.
func Open(cityPath, asnPath string) (*Readers, error) {
	if cityPath == "" && asnPath == "" {
		return nil, nil
	}

	r := &Readers{}
	if cityPath != "" {
		db, err := geoip2.Open(cityPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open city database: %w", err)
		}
		r.City = db
	}
	if asnPath != "" {
		db, err := geoip2.Open(asnPath)
		if err != nil {
			if r.City != nil {
				r.City.Close()
			}
			return nil, fmt.Errorf("failed to open ASN database: %w", err)
		}
		r.ASN = db
	}
	return r, nil
}

// Close closes both database readers.
func (r *Readers) Close() error {
	var err error
	if r.City != nil {
		if e := r.City.Close(); e != nil {
			err = e
		}
	}
	if r.ASN != nil {
		if e := r.ASN.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Enrich fills the record's empty country, city, ASN and organization
// fields from the local databases. Lookup failures are logged and the
// record is left as-is.
func (r *Readers) Enrich(rec *model.Record) {
	if r == nil || rec == nil {
		return
	}
	addr, err := netip.ParseAddr(rec.IP)
	if err != nil {
		return
	}
	netIP := net.IP(addr.AsSlice())

	if r.City != nil && (rec.Country == "" || rec.City == "") {
		city, err := r.City.City(netIP)
		if err != nil {
			log.Printf("WARN: GeoIP city lookup failed for %s: %v", rec.IP, err)
		} else {
			if rec.Country == "" {
				rec.Country = city.Country.IsoCode
			}
			if rec.City == "" {
				rec.City = city.City.Names["en"]
			}
		}
	}

	if r.ASN != nil && (rec.ASN == "" || rec.Organization == "") {
		asn, err := r.ASN.ASN(netIP)
		if err != nil {
			log.Printf("WARN: GeoIP ASN lookup failed for %s: %v", rec.IP, err)
			return
		}
		if rec.ASN == "" && asn.AutonomousSystemNumber > 0 {
			rec.ASN = strconv.FormatUint(uint64(asn.AutonomousSystemNumber), 10)
		}
		if rec.Organization == "" {
			rec.Organization = asn.AutonomousSystemOrganization
		}
	}
}
