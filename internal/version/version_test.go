package version

import (
	"errors"
	"testing"
)

func TestParseAcceptsReleaseTags(t *testing.T) {
	for _, tag := range []string{"v1.12.0", "v1.13.0", "v1.13.0-beta1", "v1.14.3", " v1.12.3 "} {
		v, err := Parse(tag)
		if err != nil {
			t.Fatalf("parse %q: %v", tag, err)
		}
		if v.IsZero() {
			t.Fatalf("parse %q: zero version", tag)
		}
	}
}

func TestParseRejectsMalformedTags(t *testing.T) {
	for _, tag := range []string{"", "1.12.0", "main", "v1.12.0.0", "release-1.12"} {
		if _, err := Parse(tag); !errors.Is(err, ErrInvalidTag) {
			t.Fatalf("parse %q: expected ErrInvalidTag, got %v", tag, err)
		}
	}
}

func TestParseKeepsTagVerbatim(t *testing.T) {
	v, err := Parse("v1.13.2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.String() != "v1.13.2" {
		t.Fatalf("unexpected tag: %q", v.String())
	}
}

func TestOrderingIsNumericNotLexicographic(t *testing.T) {
	// Lexicographically "v1.9.0" > "v1.10.0"; release order says otherwise.
	older := MustParse("v1.9.0")
	newer := MustParse("v1.10.0")
	if !older.Before(newer) {
		t.Fatalf("expected v1.9.0 before v1.10.0")
	}
	if newer.Before(older) {
		t.Fatalf("expected v1.10.0 not before v1.9.0")
	}
}

func TestAtLeast(t *testing.T) {
	threshold := MustParse("v1.13.0")
	cases := []struct {
		tag  string
		want bool
	}{
		{"v1.12.0", false},
		{"v1.12.3", false},
		{"v1.13.0", true},
		{"v1.13.2", true},
		{"v1.14.0", true},
	}
	for _, tc := range cases {
		if got := MustParse(tc.tag).AtLeast(threshold); got != tc.want {
			t.Fatalf("%s at least %s: got %v, want %v", tc.tag, threshold, got, tc.want)
		}
	}
}

func TestCompareEqual(t *testing.T) {
	if MustParse("v1.13.0").Compare(MustParse("v1.13.0")) != 0 {
		t.Fatalf("expected equal versions to compare 0")
	}
}
