package react

import "testing"

func TestCanonicalize_StripsEmptyAndNormalizesKeysAndPaths(t *testing.T) {
	in := map[string]any{
		"Path":   "src\\main.go",
		" Query": "  hello  ",
		"empty":  "",
		"nil":    nil,
		"Count":  3,
	}
	got := Canonicalize(in)

	if _, ok := got["empty"]; ok {
		t.Fatal("Canonicalize() kept an empty-string value")
	}
	if _, ok := got["nil"]; ok {
		t.Fatal("Canonicalize() kept a nil value")
	}
	if got["path"] != "src/main.go" {
		t.Fatalf("path = %q, want normalized separator", got["path"])
	}
	if got["query"] != "hello" {
		t.Fatalf("query = %q, want trimmed", got["query"])
	}
	if got["count"] != 3 {
		t.Fatalf("count = %v, want 3", got["count"])
	}
}

func TestFingerprint_IsOrderAndCaseInsensitiveOverKeys(t *testing.T) {
	a := Fingerprint("Search", map[string]any{"Path": "a/b", "Query": "x"})
	b := Fingerprint("search", map[string]any{"query": "x", "path": "a/b"})
	if a != b {
		t.Fatalf("Fingerprint() not stable under key order/case: %q != %q", a, b)
	}
}

func TestFingerprint_DiffersWhenParametersDiffer(t *testing.T) {
	a := Fingerprint("search", map[string]any{"query": "x"})
	b := Fingerprint("search", map[string]any{"query": "y"})
	if a == b {
		t.Fatal("Fingerprint() collided for different parameters")
	}
}

func TestFingerprint_PathSeparatorNormalizationCollidesEquivalentPaths(t *testing.T) {
	a := Fingerprint("read_file", map[string]any{"path": "internal\\react\\loop.go"})
	b := Fingerprint("read_file", map[string]any{"path": "internal/react/loop.go"})
	if a != b {
		t.Fatalf("Fingerprint() did not treat equivalent paths as identical: %q != %q", a, b)
	}
}
