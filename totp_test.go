package authcore

import (
	"encoding/base32"
	"strings"
	"testing"
	"time"
)

func totpTestConfig() TOTPConfig {
	return TOTPConfig{
		Issuer:    "Back Office",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	}
}

func codeForOffset(t *testing.T, secret string, cfg TOTPConfig, at time.Time, offset int64) string {
	t.Helper()
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	counter := (at.Unix() / int64(cfg.Period)) + offset
	code, err := hotpCode(key, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}

func TestTOTPGenerateSecretIsBase32(t *testing.T) {
	m := newTOTPManager(totpTestConfig())

	secret, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		t.Fatalf("secret is not valid base32: %v", err)
	}
	if len(raw) != totpSecretBytes {
		t.Fatalf("expected %d secret bytes, got %d", totpSecretBytes, len(raw))
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	m := newTOTPManager(totpTestConfig())

	uri := m.ProvisionURI("JBSWY3DPEHPK3PXP", "a@x.com")
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("expected otpauth uri, got %s", uri)
	}
	if !strings.Contains(uri, "secret=JBSWY3DPEHPK3PXP") {
		t.Fatalf("expected secret parameter in uri, got %s", uri)
	}
	if !strings.Contains(uri, "issuer=Back+Office") {
		t.Fatalf("expected issuer parameter in uri, got %s", uri)
	}
}

func TestTOTPVerifyWindow(t *testing.T) {
	cfg := totpTestConfig()
	m := newTOTPManager(cfg)

	secret, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)

	for _, offset := range []int64{-1, 0, 1} {
		code := codeForOffset(t, secret, cfg, now, offset)
		ok, err := m.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatalf("VerifyCode failed at offset %d: %v", offset, err)
		}
		if !ok {
			t.Fatalf("expected code at offset %d to verify", offset)
		}
	}

	for _, offset := range []int64{-2, 2} {
		code := codeForOffset(t, secret, cfg, now, offset)
		ok, err := m.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatalf("VerifyCode failed at offset %d: %v", offset, err)
		}
		if ok {
			t.Fatalf("expected code at offset %d to be rejected", offset)
		}
	}
}

func TestTOTPVerifyRejectsMalformedCodes(t *testing.T) {
	m := newTOTPManager(totpTestConfig())

	secret, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 456"} {
		ok, err := m.VerifyCode(secret, code, time.Now())
		if err != nil {
			t.Fatalf("expected no error for malformed code %q, got %v", code, err)
		}
		if ok {
			t.Fatalf("expected malformed code %q to be rejected", code)
		}
	}
}

func TestTOTPVerifyRejectsBadSecret(t *testing.T) {
	m := newTOTPManager(totpTestConfig())

	if _, err := m.VerifyCode("", "123456", time.Now()); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := m.VerifyCode("not base32!!", "123456", time.Now()); err == nil {
		t.Fatal("expected error for invalid base32 secret")
	}
}

// RFC 6238 appendix B test vectors for HMAC-SHA1, 8 digits.
func TestTOTPRFCVectors(t *testing.T) {
	secret := []byte("12345678901234567890")

	vectors := []struct {
		at   int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	for _, v := range vectors {
		counter := v.at / 30
		code, err := hotpCode(secret, counter, 8, "SHA1")
		if err != nil {
			t.Fatalf("hotpCode failed at %d: %v", v.at, err)
		}
		if code != v.code {
			t.Fatalf("at %d expected %s, got %s", v.at, v.code, code)
		}
	}
}
