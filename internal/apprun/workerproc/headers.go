package workerproc

const (
	maxHeaderCount      = 100
	maxHeaderValueBytes = 8 << 10  // 8KB
	maxHeaderTotalBytes = 64 << 10 // 64KB
)

// sanitizeHeaders enforces response header safety limits:
// at most maxHeaderCount entries, each value truncated to
// maxHeaderValueBytes, and any header whose key+value length would push the
// combined total past maxHeaderTotalBytes skipped. Headers dropped by either
// limit are simply omitted; callers are not expected to surface this to the
// app since response headers are advisory by nature.
func sanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return headers
	}
	out := make(map[string]string, len(headers))
	var total int
	var count int
	for k, v := range headers {
		if count >= maxHeaderCount {
			break
		}
		if len(v) > maxHeaderValueBytes {
			v = v[:maxHeaderValueBytes]
		}
		entrySize := len(k) + len(v)
		if total+entrySize > maxHeaderTotalBytes {
			continue
		}
		out[k] = v
		total += entrySize
		count++
	}
	return out
}
