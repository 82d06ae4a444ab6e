package workerproc

import (
	"bytes"
	"encoding/json"
	"html"
	"strings"
)

// publicEnvPrefixes lists the env var name prefixes that are safe to expose
// to the browser via window.__env__; anything else in a worker's env stays
// server-side only.
var publicEnvPrefixes = []string{"PUBLIC_", "VITE_"}

// injectHTML rewrites an HTML response body to add a <base href="basePath">
// tag and, when env holds any public-prefixed key, a window.__env__
// bootstrap script into <head>, so a static or
// plugin-rendered page can resolve relative asset URLs and read its public
// config without a round trip. It is a no-op if body has no <head> tag.
func injectHTML(body []byte, basePath string, env map[string]string) []byte {
	idx := bytes.Index(bytes.ToLower(body), []byte("<head>"))
	if idx < 0 {
		return body
	}
	insertAt := idx + len("<head>")

	public := make(map[string]string)
	for k, v := range env {
		for _, prefix := range publicEnvPrefixes {
			if strings.HasPrefix(k, prefix) {
				public[k] = v
				break
			}
		}
	}

	var buf bytes.Buffer
	buf.WriteString(`<base href="`)
	buf.WriteString(html.EscapeString(basePath))
	buf.WriteString(`">`)

	if len(public) > 0 {
		encoded, err := json.Marshal(public)
		if err == nil {
			script := string(encoded)
			script = strings.ReplaceAll(script, "</script>", `<\/script>`)
			buf.WriteString(`<script>window.__env__=`)
			buf.WriteString(script)
			buf.WriteString(`;</script>`)
		}
	}

	out := make([]byte, 0, len(body)+buf.Len())
	out = append(out, body[:insertAt]...)
	out = append(out, buf.Bytes()...)
	out = append(out, body[insertAt:]...)
	return out
}
