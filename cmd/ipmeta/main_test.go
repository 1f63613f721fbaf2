package main

import (
	"strings"
	"testing"
)

func TestReadIPList(t *testing.T) {
	input := "8.8.8.8\n" +
		"\n" +
		"# comment line\n" +
		"  1.1.1.1  \n" +
		"2001:4860:4860::8888\n"

	ips, err := readIPList(strings.NewReader(input))
	if err != nil {
		t.Fatalf("readIPList failed: %v", err)
	}

	want := []string{"8.8.8.8", "1.1.1.1", "2001:4860:4860::8888"}
	if len(ips) != len(want) {
		t.Fatalf("got %d IPs, want %d", len(ips), len(want))
	}
	for i := range want {
		if ips[i] != want[i] {
			t.Errorf("ips[%d] = %q, want %q", i, ips[i], want[i])
		}
	}
}

func TestGatherIPs(t *testing.T) {
	ips, err := gatherIPs("8.8.8.8, 1.1.1.1", "", []string{"9.9.9.9"})
	if err != nil {
		t.Fatalf("gatherIPs failed: %v", err)
	}

	want := []string{"8.8.8.8", "1.1.1.1", "9.9.9.9"}
	if len(ips) != len(want) {
		t.Fatalf("got %v, want %v", ips, want)
	}
	for i := range want {
		if ips[i] != want[i] {
			t.Errorf("ips[%d] = %q, want %q", i, ips[i], want[i])
		}
	}
}

func TestGatherIPsMissingFile(t *testing.T) {
	if _, err := gatherIPs("", "/does/not/exist", nil); err == nil {
		t.Error("expected an error for a missing input file")
	}
}
