// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// ipmeta resolves ownership metadata (organization, country, ASN, network
// range, registration date) for IP addresses via RDAP, reverse-DNS whois,
// and the system whois client, with local caching.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wingedpig/ipmeta/pkg/engine"
	"github.com/wingedpig/ipmeta/pkg/model"
	"github.com/wingedpig/ipmeta/pkg/output"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	ipFlag := flag.String("ip", "", "IP address(es) to look up, comma-separated")
	inputFile := flag.String("file", "", "File with one IP per line (blank lines and # comments skipped)")
	method := flag.String("method", "auto", "Lookup method: auto, rdap (primary), dns-whois (fallback), system")
	noCache := flag.Bool("no-cache", false, "Disable the result cache")
	cacheDir := flag.String("cache-dir", "", "Cache directory (default: user cache dir)")
	cacheBackend := flag.String("cache-backend", "file", "Cache backend: file or leveldb")
	cacheTTL := flag.Duration("cache-ttl", 24*time.Hour, "How long cache entries stay fresh")
	cleanCache := flag.Bool("clean-cache", false, "Remove expired cache entries and exit")
	timeout := flag.Duration("timeout", 30*time.Second, "Timeout per lookup attempt")
	rateLimit := flag.Duration("rate-limit", 0, "Override per-resolver request spacing")
	retries := flag.Int("retries", 2, "Retries per resolver after the first attempt")
	whoisPath := flag.String("whois-path", "", "Path to the system whois binary")
	parallel := flag.Bool("parallel", true, "Process IPs concurrently")
	maxWorkers := flag.Int("workers", 8, "Number of concurrent workers")
	outputFile := flag.String("output", "", "Output file (default: console table)")
	format := flag.String("format", "csv", "Output file format: csv, json, or text")
	includeRaw := flag.Bool("include-raw", false, "Include raw source payloads in JSON output")
	geoCityDB := flag.String("geodb-city", "", "Optional MaxMind City mmdb for enrichment")
	geoASNDB := flag.String("geodb-asn", "", "Optional MaxMind ASN mmdb for enrichment")
	verbose := flag.Bool("verbose", false, "Log each lookup as it completes")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ipmeta version %s\n", version)
		return 0
	}

	cfg := engine.Config{
		Method:       *method,
		UseCache:     !*noCache,
		CacheDir:     *cacheDir,
		CacheBackend: *cacheBackend,
		CacheTTL:     *cacheTTL,
		Timeout:      *timeout,
		RateLimit:    *rateLimit,
		MaxRetries:   *retries,
		WhoisPath:    *whoisPath,
		UserAgent:    "ipmeta/" + version,
		GeoCityDB:    *geoCityDB,
		GeoASNDB:     *geoASNDB,
	}
	if *verbose {
		cfg.OnResult = func(ip string, rec *model.Record, err error) {
			if err != nil {
				log.Printf("ERROR: %s: %v", ip, err)
				return
			}
			log.Printf("INFO: %s resolved via %s", ip, rec.Source)
		}
	}

	eng, err := engine.New(cfg)
	if err != nil {
		log.Printf("ERROR: %v", err)
		return 1
	}
	defer eng.Close()

	if *cleanCache {
		n := eng.CleanCache()
		fmt.Printf("Removed %d expired cache entries\n", n)
		return 0
	}

	ips, err := gatherIPs(*ipFlag, *inputFile, flag.Args())
	if err != nil {
		log.Printf("ERROR: %v", err)
		return 1
	}
	if len(ips) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: ipmeta [options] <ip-address> [<ip-address>...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ipmeta 8.8.8.8\n")
		fmt.Fprintf(os.Stderr, "  ipmeta -method=rdap -output=results.csv -file=ips.txt\n")
		return 1
	}

	// SIGINT stops submission of new work; in-flight lookups finish or
	// hit their own timeouts.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome := eng.Process(ctx, ips, *parallel, *maxWorkers)

	if ctx.Err() != nil {
		log.Printf("WARN: Interrupted by user")
		return 130
	}

	for _, failure := range outcome.Failures {
		fmt.Fprintf(os.Stderr, "lookup failed for %s: %s\n", failure.IP, failure.Reason)
	}

	if len(outcome.Results) == 0 {
		if len(outcome.Failures) > 0 {
			return 1
		}
		return 0
	}

	if *outputFile == "" {
		output.RenderTable(os.Stdout, outcome.Results)
	} else {
		if err := output.Write(*outputFile, outcome.Results, *format, *includeRaw); err != nil {
			log.Printf("ERROR: %v", err)
			return 1
		}
		log.Printf("INFO: Wrote %d results to %s", len(outcome.Results), *outputFile)
	}

	return 0
}

// gatherIPs merges the -ip flag, positional arguments, and an optional
// input file into one list, preserving order.
func gatherIPs(ipFlag, inputFile string, args []string) ([]string, error) {
	var ips []string

	for _, ip := range strings.Split(ipFlag, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			ips = append(ips, ip)
		}
	}
	ips = append(ips, args...)

	if inputFile != "" {
		f, err := os.Open(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()

		fileIPs, err := readIPList(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		ips = append(ips, fileIPs...)
	}

	return ips, nil
}

func readIPList(r io.Reader) ([]string, error) {
	var ips []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ips = append(ips, line)
	}
	return ips, scanner.Err()
}
