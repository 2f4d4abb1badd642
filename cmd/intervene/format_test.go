package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
)

// captureStdout replaces os.Stdout with a pipe, calls f, then returns the
// captured output and restores os.Stdout. It is NOT safe for parallel use
// because os.Stdout is a package-level variable.
func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w

	done := make(chan struct{})
	var buf bytes.Buffer
	go func() {
		io.Copy(&buf, r)
		close(done)
	}()

	f()

	w.Close()
	<-done
	os.Stdout = orig
	r.Close()
	return buf.String()
}

func TestFormatJSON(t *testing.T) {
	type sample struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	}
	v := sample{ID: 42, Title: "Printer on fire"}

	got := captureStdout(t, func() { formatJSON(v) })

	var out sample
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("output is not valid JSON: %v\noutput: %s", err, got)
	}
	if out.ID != 42 || out.Title != "Printer on fire" {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestFormatTableAlignment(t *testing.T) {
	got := captureStdout(t, func() {
		formatTable(
			[]string{"ID", "TITLE"},
			[][]string{
				{"1", "short"},
				{"12", "a much longer title"},
			},
		)
	})

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("want header, separator, and 2 rows, got %d lines:\n%s", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[0], "TITLE") {
		t.Errorf("header row %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "--") {
		t.Errorf("separator row %q", lines[1])
	}
	// Column two starts at the same offset in every row.
	offset := strings.Index(lines[0], "TITLE")
	if idx := strings.Index(lines[2], "short"); idx != offset {
		t.Errorf("row misaligned: want column at %d, got %d", offset, idx)
	}
}
