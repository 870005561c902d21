package secrets

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestBox(t *testing.T) *Box {
	t.Helper()
	b, err := New(testKey)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	b := newTestBox(t)
	for _, plain := range []string{"hello", "sk-ant-oat01-secret", "ünïcødé ✓", ""} {
		enc, err := b.Encrypt(plain)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plain, err)
		}
		got, err := b.Decrypt(enc)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plain, err)
		}
		if got != plain {
			t.Errorf("round trip = %q, want %q", got, plain)
		}
	}
}

func TestFreshIVPerCall(t *testing.T) {
	b := newTestBox(t)
	a, _ := b.Encrypt("same")
	c, _ := b.Encrypt("same")
	if a == c {
		t.Error("two encryptions of the same plaintext produced identical output")
	}
}

func TestEmptyPlaintextFormat(t *testing.T) {
	b := newTestBox(t)
	enc, err := b.Encrypt("")
	if err != nil {
		t.Fatalf("encrypt empty: %v", err)
	}
	parts := strings.Split(enc, ":")
	if len(parts) != 3 {
		t.Fatalf("segments = %d, want 3", len(parts))
	}
	if parts[2] != "" {
		t.Errorf("ciphertext segment = %q, want empty", parts[2])
	}
}

func TestTamperDetection(t *testing.T) {
	b := newTestBox(t)
	enc, err := b.Encrypt("payload")
	if err != nil {
		t.Fatal(err)
	}

	flip := func(s string, i int) string {
		c := byte('0')
		if s[i] == '0' {
			c = '1'
		}
		return s[:i] + string(c) + s[i+1:]
	}

	parts := strings.Split(enc, ":")
	for name, tampered := range map[string]string{
		"iv":         flip(parts[0], 0) + ":" + parts[1] + ":" + parts[2],
		"tag":        parts[0] + ":" + flip(parts[1], 0) + ":" + parts[2],
		"ciphertext": parts[0] + ":" + parts[1] + ":" + flip(parts[2], 0),
	} {
		if _, err := b.Decrypt(tampered); !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("%s tamper: err = %v, want ErrAuthenticationFailed", name, err)
		}
	}
}

func TestMalformedInput(t *testing.T) {
	b := newTestBox(t)
	for _, bad := range []string{
		"",
		"onlyone",
		"two:parts",
		"a:b:c:d",
		"zz:ffff:00", // bad hex iv
		"000000000000000000000000:zz:00",
	} {
		if _, err := b.Decrypt(bad); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Decrypt(%q) err = %v, want ErrInvalidFormat", bad, err)
		}
	}
}

func TestInvalidKey(t *testing.T) {
	for _, key := range []string{"", "abcd", "zz" + testKey[2:], testKey + "00"} {
		if _, err := New(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("New(%q) err = %v, want ErrInvalidKey", key, err)
		}
	}
}
