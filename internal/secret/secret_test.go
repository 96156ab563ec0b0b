package secret

import (
	"errors"
	"strings"
	"testing"
)

// testParams keeps argon2 cheap enough for unit tests.
func testParams() Params {
	return Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestPlainMatch(t *testing.T) {
	s := NewPlain("password")

	tests := []struct {
		candidate string
		want      bool
	}{
		{"password", true},
		{"wrong", false},
		{"Password", false},
		{"password ", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := s.Match(tt.candidate); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.candidate, got, tt.want)
		}
	}
}

func TestHashAndMatch(t *testing.T) {
	encoded, err := Hash("correct horse", testParams())
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", encoded)
	}

	a, err := ParseArgon2(encoded)
	if err != nil {
		t.Fatalf("ParseArgon2 failed: %v", err)
	}
	if !a.Match("correct horse") {
		t.Error("expected correct password to match")
	}
	if a.Match("correct horse ") {
		t.Error("expected different password to fail")
	}
}

func TestParseArgon2Invalid(t *testing.T) {
	cases := []string{
		"",
		"plain",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1,x=2$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
	}
	for _, c := range cases {
		if _, err := ParseArgon2(c); err == nil {
			t.Errorf("ParseArgon2(%q) succeeded, want error", c)
		}
	}
}

func TestFromConfig(t *testing.T) {
	if _, err := FromConfig("", ""); !errors.Is(err, ErrNoSecret) {
		t.Errorf("err = %v, want ErrNoSecret", err)
	}

	s, err := FromConfig("password", "")
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if !s.Match("password") {
		t.Error("plain secret did not match")
	}

	encoded, err := Hash("hashed-pass", testParams())
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	s, err = FromConfig("password", encoded)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if s.Match("password") {
		t.Error("hash should take precedence over cleartext password")
	}
	if !s.Match("hashed-pass") {
		t.Error("hashed secret did not match")
	}

	if _, err := FromConfig("", "$argon2id$broken"); err == nil {
		t.Error("expected error for malformed hash")
	}
}
