package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wingedpig/ipmeta/pkg/model"
)

func sampleRecords() []*model.Record {
	return []*model.Record{
		{
			IP:           "8.8.8.8",
			Organization: "Google LLC",
			Country:      "US",
			ASN:          "15169",
			Network:      "8.8.8.0/24",
			Source:       "rdap",
			Raw:          model.RawData{"secret": "payload"},
		},
		{
			IP:     "193.0.0.1",
			Source: "system",
		},
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := WriteCSV(path, sampleRecords()); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to read CSV back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2 records", len(rows))
	}

	wantHeader := "ip,organization,country,city,asn,network,registered,source"
	if got := strings.Join(rows[0], ","); got != wantHeader {
		t.Errorf("got header %q, want %q", got, wantHeader)
	}

	// Sparse record gets empty cells, not fewer columns
	if len(rows[2]) != 8 {
		t.Errorf("got %d columns for sparse record, want 8", len(rows[2]))
	}
	if rows[2][1] != "" {
		t.Errorf("got organization %q for sparse record, want empty", rows[2][1])
	}
}

func TestWriteJSONStripsRaw(t *testing.T) {
	recs := sampleRecords()
	path := filepath.Join(t.TempDir(), "out.json")
	if err := WriteJSON(path, recs, false); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("secret")) {
		t.Error("raw payload should be stripped by default")
	}

	// Stripping must not mutate the caller's records
	if recs[0].Raw == nil {
		t.Error("input record's raw payload was mutated")
	}

	var decoded []*model.Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Organization != "Google LLC" {
		t.Errorf("got %+v, want the two records back", decoded)
	}
}

func TestWriteJSONIncludeRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := WriteJSON(path, sampleRecords(), true); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("secret")) {
		t.Error("raw payload should be present with includeRaw")
	}
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, sampleRecords())

	out := buf.String()
	if !strings.Contains(out, "ORGANIZATION") {
		t.Error("table should have an uppercase header row")
	}
	if !strings.Contains(out, "Google LLC") {
		t.Error("table should contain record values")
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if err := Write(filepath.Join(t.TempDir(), "x"), nil, "xml", false); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestWriteText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	if err := WriteText(path, sampleRecords()); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "IP: 8.8.8.8") {
		t.Error("report should contain an IP header per record")
	}
	if strings.Contains(out, "city:") {
		t.Error("empty fields should be omitted from the report")
	}
}
