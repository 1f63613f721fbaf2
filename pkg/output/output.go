// Package output renders lookup results for the console and writes them to
// CSV, JSON, or plain-text report files.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/wingedpig/ipmeta/pkg/model"
)

// columns is the fixed minimal column set for tabular output. Missing
// values are written as empty cells.
var columns = []string{"ip", "organization", "country", "city", "asn", "network", "registered", "source"}

func fieldValue(rec *model.Record, col string) string {
	switch col {
	case "ip":
		return rec.IP
	case "organization":
		return rec.Organization
	case "country":
		return rec.Country
	case "city":
		return rec.City
	case "asn":
		return rec.ASN
	case "network":
		return rec.Network
	case "registered":
		return rec.Registered
	case "source":
		return rec.Source
	}
	return ""
}

// RenderTable writes an aligned console table of the results.
func RenderTable(w io.Writer, recs []*model.Record) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = strings.ToUpper(col)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, rec := range recs {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = fieldValue(rec, col)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// WriteCSV writes the results to path with the fixed column set.
func WriteCSV(path string, recs []*model.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, rec := range recs {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = fieldValue(rec, col)
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteJSON writes the results as a JSON array. Unless includeRaw is set,
// each record's raw source payload is stripped first.
func WriteJSON(path string, recs []*model.Record, includeRaw bool) error {
	out := recs
	if !includeRaw {
		out = make([]*model.Record, len(recs))
		for i, rec := range recs {
			clone := rec.Clone()
			clone.Raw = nil
			out[i] = clone
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// WriteText writes a human-readable report, one block per IP.
func WriteText(path string, recs []*model.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	for i, rec := range recs {
		if i > 0 {
			fmt.Fprintln(f)
		}
		fmt.Fprintf(f, "IP: %s\n", rec.IP)
		for _, col := range columns[1:] {
			if v := fieldValue(rec, col); v != "" {
				fmt.Fprintf(f, "  %-14s %s\n", col+":", v)
			}
		}
	}
	return nil
}

// Write dispatches on format: csv, json, or text.
func Write(path string, recs []*model.Record, format string, includeRaw bool) error {
	switch format {
	case "csv":
		return WriteCSV(path, recs)
	case "json":
		return WriteJSON(path, recs, includeRaw)
	case "text":
		return WriteText(path, recs)
	}
	return fmt.Errorf("unknown output format %q", format)
}
