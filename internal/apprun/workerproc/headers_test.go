package workerproc

import (
	"strings"
	"testing"
)

func TestSanitizeHeadersTruncatesLongValue(t *testing.T) {
	long := strings.Repeat("x", maxHeaderValueBytes+100)
	out := sanitizeHeaders(map[string]string{"x-big": long})
	if len(out["x-big"]) != maxHeaderValueBytes {
		t.Fatalf("expected truncation to %d bytes, got %d", maxHeaderValueBytes, len(out["x-big"]))
	}
}

func TestSanitizeHeadersCapsCount(t *testing.T) {
	in := make(map[string]string, maxHeaderCount+20)
	for i := 0; i < maxHeaderCount+20; i++ {
		in[strings.Repeat("h", 1)+string(rune('a'+i%26))+string(rune(i))] = "v"
	}
	out := sanitizeHeaders(in)
	if len(out) > maxHeaderCount {
		t.Fatalf("expected at most %d headers, got %d", maxHeaderCount, len(out))
	}
}

func TestSanitizeHeadersCapsTotalBytes(t *testing.T) {
	in := make(map[string]string, 20)
	big := strings.Repeat("y", maxHeaderValueBytes)
	for i := 0; i < 20; i++ {
		in[string(rune('a'+i))] = big
	}
	out := sanitizeHeaders(in)
	var total int
	for k, v := range out {
		total += len(k) + len(v)
	}
	if total > maxHeaderTotalBytes {
		t.Fatalf("expected total <= %d, got %d", maxHeaderTotalBytes, total)
	}
}
