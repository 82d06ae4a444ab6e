package front

import "testing"

func TestSplitAppPath(t *testing.T) {
	cases := []struct {
		in       string
		wantName string
		wantRest string
		wantOK   bool
	}{
		{"/apps/demo/", "demo", "/", true},
		{"/apps/demo", "demo", "/", true},
		{"/apps/demo/api/x", "demo", "/api/x", true},
		{"/apps/", "", "", false},
		{"/other/path", "", "", false},
	}
	for _, c := range cases {
		name, rest, ok := splitAppPath(c.in)
		if ok != c.wantOK {
			t.Fatalf("splitAppPath(%q) ok = %v, want %v", c.in, ok, c.wantOK)
		}
		if !ok {
			continue
		}
		if name != c.wantName || rest != c.wantRest {
			t.Fatalf("splitAppPath(%q) = (%q, %q), want (%q, %q)", c.in, name, rest, c.wantName, c.wantRest)
		}
	}
}
