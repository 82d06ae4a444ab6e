package workerproc

import (
	"strings"
	"testing"
)

func TestInjectHTMLAddsBaseAndEnv(t *testing.T) {
	in := []byte("<html><head><title>x</title></head><body></body></html>")
	out := injectHTML(in, "/apps/demo/", map[string]string{
		"PUBLIC_API": "https://api.test",
		"SECRET_KEY": "do-not-leak",
	})
	s := string(out)
	if !strings.Contains(s, `<base href="/apps/demo/">`) {
		t.Fatalf("missing base tag: %s", s)
	}
	if !strings.Contains(s, "window.__env__=") {
		t.Fatalf("missing env script: %s", s)
	}
	if !strings.Contains(s, "PUBLIC_API") {
		t.Fatalf("expected public var present: %s", s)
	}
	if strings.Contains(s, "do-not-leak") {
		t.Fatalf("private env var leaked into page: %s", s)
	}
}

func TestInjectHTMLEscapesScriptClose(t *testing.T) {
	in := []byte("<head></head>")
	out := injectHTML(in, "/", map[string]string{"PUBLIC_X": "</script><script>alert(1)</script>"})
	if strings.Contains(string(out), "</script><script>alert") {
		t.Fatalf("script-close sequence was not escaped: %s", out)
	}
}

func TestInjectHTMLNoOpWithoutHead(t *testing.T) {
	in := []byte("plain text, no head tag")
	out := injectHTML(in, "/", map[string]string{"PUBLIC_X": "y"})
	if string(out) != string(in) {
		t.Fatalf("expected no-op, got %s", out)
	}
}
