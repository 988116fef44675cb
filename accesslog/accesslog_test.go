package accesslog

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWriteFormatsExpectedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	w, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	entry := Entry{
		Time:       time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		ConnUID:    1,
		ReqUID:     2,
		RemoteAddr: "10.0.0.1:5555",
		Method:     "GET",
		HTTP11:     true,
		Host:       "example.com",
		URI:        "/index.html",
		Status:     200,
		Bytes:      1234,
		Duration:   42 * time.Millisecond,
		Handler:    "fileserver",
	}
	if err := w.Write(entry); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	for _, want := range []string{
		"0000000000000001", "0000000000000002", "10.0.0.1:5555",
		"GET.1", "example.com", "/index.html", "200", "1234b", "42ms", "fileserver",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected line to contain %q, got %q", want, line)
		}
	}
}

func TestWriteOmitsHostWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "access.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	w.Write(Entry{Method: "GET", URI: "/", Status: 200, Handler: "h"})
	data, _ := os.ReadFile(filepath.Join(dir, "access.log"))
	if !strings.Contains(string(data), " - /") {
		t.Fatalf("expected '-' placeholder for empty host, got %q", data)
	}
}

func TestConcurrentWritesNeverInterleave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "access.log")
	w, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.Write(Entry{Method: "GET", URI: "/x", Status: 200, Handler: "h", ReqUID: uint64(i)})
		}(i)
	}
	wg.Wait()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	count := 0
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "GET.1") || !strings.HasSuffix(line, " h") {
			t.Fatalf("malformed interleaved line: %q", line)
		}
		count++
	}
	if count != n {
		t.Fatalf("expected %d whole lines, got %d", n, count)
	}
}
