package roomcode

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"abc123", "ABC123"},
		{"  xY7  ", "XY7"},
		{"a-b_c!", "ABC"},
		{"", ""},
		{"   ", ""},
		{"---", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := []string{"ABC1", "ABCD1234", "12345678"}
	for _, code := range valid {
		if err := Validate(code); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", code, err)
		}
	}

	if err := Validate(""); !errors.Is(err, ErrEmpty) {
		t.Errorf("Validate(\"\") = %v, want ErrEmpty", err)
	}
	for _, code := range []string{"AB1", "ABCD12345"} {
		if err := Validate(code); !errors.Is(err, ErrBadLength) {
			t.Errorf("Validate(%q) = %v, want ErrBadLength", code, err)
		}
	}
	// Lowercase has not been normalized and must not validate.
	if err := Validate("abcd"); err == nil {
		t.Error("Validate(\"abcd\") = nil, want error")
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := Generate()
		if err := Validate(code); err != nil {
			t.Fatalf("generated code %q does not validate: %v", code, err)
		}
		if code != Normalize(code) {
			t.Fatalf("generated code %q is not normalized", code)
		}
		seen[code] = true
	}
	if len(seen) < 90 {
		t.Errorf("generated codes collide suspiciously often: %d distinct of 100", len(seen))
	}
}
