package hdr

import "testing"

func TestLineParserSplitsWholeBlock(t *testing.T) {
	lp := NewLineParser(1024)
	var lines []string
	_, err := lp.Feed([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"), func(b []byte) error {
		lines = append(lines, string(b))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"GET / HTTP/1.1", "Host: x", ""}
	if len(lines) != len(want) {
		t.Fatalf("got %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, lines[i], want[i])
		}
	}
}

func TestLineParserSplitAcrossFeeds(t *testing.T) {
	lp := NewLineParser(1024)
	var lines []string
	onLine := func(b []byte) error {
		lines = append(lines, string(b))
		return nil
	}
	wire := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
	for i := 0; i < len(wire); i++ {
		if _, err := lp.Feed([]byte{wire[i]}, onLine); err != nil {
			t.Fatal(err)
		}
	}
	if len(lines) != 3 || lines[0] != "GET / HTTP/1.1" {
		t.Fatalf("got %v", lines)
	}
}

func TestLineParserTooLarge(t *testing.T) {
	lp := NewLineParser(4)
	_, err := lp.Feed([]byte("toolongline\r\n"), func([]byte) error { return nil })
	if err != ErrHeadersTooLarge {
		t.Fatalf("got %v", err)
	}
}

func TestParseRequestLine(t *testing.T) {
	m, u, v, err := ParseRequestLine([]byte("GET /foo HTTP/1.1"))
	if err != nil || m != "GET" || u != "/foo" || v != "HTTP/1.1" {
		t.Fatalf("m=%q u=%q v=%q err=%v", m, u, v, err)
	}
}

func TestParseStatusLine(t *testing.T) {
	v, code, reason, err := ParseStatusLine([]byte("HTTP/1.1 200 OK"))
	if err != nil || v != "HTTP/1.1" || code != 200 || reason != "OK" {
		t.Fatalf("v=%q code=%d reason=%q err=%v", v, code, reason, err)
	}
}

func TestParseHeaderLine(t *testing.T) {
	k, v, err := ParseHeaderLine([]byte("Content-Length:  42 "))
	if err != nil || k != "Content-Length" || v != "42" {
		t.Fatalf("k=%q v=%q err=%v", k, v, err)
	}
}

func TestCanonicalHeaderKey(t *testing.T) {
	if got := CanonicalHeaderKey("content-type"); got != "Content-Type" {
		t.Fatalf("got %q", got)
	}
}
