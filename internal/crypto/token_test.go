package crypto

import "testing"

func TestRefreshTokensAreUnique(t *testing.T) {
	a, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	b, _ := NewRefreshToken()
	if a == b || len(a) != 43 {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatalf("expected stable hash")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Fatalf("expected distinct hashes")
	}
}

func TestVerificationCodeFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewVerificationCode()
		if err != nil {
			t.Fatalf("code error: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected six digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("expected digits only, got %q", code)
			}
		}
	}
}
