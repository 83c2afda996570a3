package util

import (
	"path/filepath"
	"testing"
)

func TestHideSecret(t *testing.T) {
	cases := map[string]string{
		"ah_0123456789abcdef": "ah_0...cdef",
		"abcdefg":             "ab...fg",
		"abcd":                "a...d",
		"ab":                  "ab",
		"":                    "",
	}
	for in, want := range cases {
		if got := HideSecret(in); got != want {
			t.Fatalf("HideSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskSensitiveQuery(t *testing.T) {
	got := MaskSensitiveQuery("limit=10&api_key=ah_0123456789abcdef&auth_token=abcdefghij")
	want := "limit=10&api_key=ah_0...cdef&auth_token=abcd...ghij"
	if got != want {
		t.Fatalf("MaskSensitiveQuery = %q, want %q", got, want)
	}
	if raw := "limit=10&start_date=2026-01-01"; MaskSensitiveQuery(raw) != raw {
		t.Fatalf("expected query without secrets to stay unchanged")
	}
}

func TestResolveWritable(t *testing.T) {
	t.Setenv("WRITABLE_PATH", "/var/lib/antihub/")
	if got := ResolveWritable("logs/antihub.log"); got != filepath.Join("/var/lib/antihub", "logs/antihub.log") {
		t.Fatalf("ResolveWritable relative = %q", got)
	}
	if got := ResolveWritable("/tmp/a.log"); got != "/tmp/a.log" {
		t.Fatalf("ResolveWritable absolute = %q", got)
	}
}
