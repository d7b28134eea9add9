package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func mustNew(t *testing.T, password string) *Authenticator {
	t.Helper()
	a, err := New(password)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestNewPlaintext(t *testing.T) {
	t.Parallel()

	a := mustNew(t, "secret")
	if !a.HasPlaintext() || !a.Configured() {
		t.Fatalf("plaintext credential not retained")
	}
	if len(a.Salt()) != 2*saltSize {
		t.Errorf("Salt() length = %d, want %d", len(a.Salt()), 2*saltSize)
	}
	if a.Iterations() != DefaultIterations {
		t.Errorf("Iterations() = %d, want %d", a.Iterations(), DefaultIterations)
	}
	if !a.VerifyPassword("secret") || a.VerifyPassword("Secret") {
		t.Errorf("VerifyPassword() mismatch")
	}
}

func TestNewFromHashString(t *testing.T) {
	t.Parallel()

	hs, err := HashPassword("secret", DefaultIterations)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !strings.HasPrefix(hs, HashPrefix+"$100000$") {
		t.Errorf("HashPassword() = %q", hs)
	}

	a := mustNew(t, hs)
	if a.HasPlaintext() {
		t.Errorf("hash-only credential retained plaintext")
	}
	if a.HashString() != hs {
		t.Errorf("HashString() = %q, want %q", a.HashString(), hs)
	}
	if !a.VerifyPassword("secret") {
		t.Errorf("VerifyPassword() = false for the hashed password")
	}
}

func TestHashStringRoundTrip(t *testing.T) {
	t.Parallel()

	a := mustNew(t, "secret")
	b := mustNew(t, a.HashString())
	ch, _ := a.Challenge()
	if !b.Verify(ch, a.Response(ch)) {
		t.Errorf("credential did not survive serialization")
	}
}

func TestParseHashString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "valid", in: "pbkdf2_sha256$100000$abcd$ef01"},
		{name: "wrong prefix", in: "bcrypt$100000$abcd$ef01", wantErr: true},
		{name: "too few parts", in: "pbkdf2_sha256$100000$abcd", wantErr: true},
		{name: "bad iterations", in: "pbkdf2_sha256$many$abcd$ef01", wantErr: true},
		{name: "zero iterations", in: "pbkdf2_sha256$0$abcd$ef01", wantErr: true},
		{name: "empty hash", in: "pbkdf2_sha256$100000$abcd$", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, _, err := ParseHashString(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHashString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidHashString) {
				t.Errorf("ParseHashString() error = %v, want ErrInvalidHashString", err)
			}
		})
	}

	if _, err := New("pbkdf2_sha256$x$abcd$ef01"); !errors.Is(err, ErrInvalidHashString) {
		t.Errorf("New(bad hash) error = %v", err)
	}
}

func TestHashPasswordMinimum(t *testing.T) {
	t.Parallel()

	if _, err := HashPassword("secret", MinIterations-1); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("HashPassword() error = %v, want ErrInvalidParameters", err)
	}
}

func TestChallengeResponse(t *testing.T) {
	t.Parallel()

	server := mustNew(t, "secret")
	client := mustNew(t, "secret")

	ch, err := server.Challenge()
	if err != nil {
		t.Fatal(err)
	}
	if server.Verify(ch, client.Response(ch)) {
		t.Fatalf("responses under different salts must not verify")
	}

	if err := client.SetParameters(server.Salt(), server.Iterations()); err != nil {
		t.Fatalf("SetParameters() error = %v", err)
	}
	resp := client.Response(ch)
	if !server.Verify(ch, resp) {
		t.Fatalf("Verify() = false after adopting server parameters")
	}

	for i := 0; i < len(resp)*4; i++ {
		flipped := flipBit(resp, i)
		if server.Verify(ch, flipped) {
			t.Fatalf("Verify() accepted response with bit %d flipped", i)
		}
	}

	wrong := mustNew(t, "wrong")
	if err := wrong.SetParameters(server.Salt(), server.Iterations()); err != nil {
		t.Fatal(err)
	}
	if server.Verify(ch, wrong.Response(ch)) {
		t.Errorf("Verify() accepted a wrong password")
	}
}

// flipBit flips bit i of the hex string's decoded value while keeping it hex.
func flipBit(s string, i int) string {
	b := []byte(s)
	pos := i / 4
	var v byte
	switch c := b[pos]; {
	case c >= '0' && c <= '9':
		v = c - '0'
	default:
		v = c - 'a' + 10
	}
	v ^= 1 << (i % 4)
	b[pos] = "0123456789abcdef"[v]
	return string(b)
}

func TestChallengeUnique(t *testing.T) {
	t.Parallel()

	a := mustNew(t, "")
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		ch, err := a.Challenge()
		if err != nil {
			t.Fatal(err)
		}
		if len(ch) != 2*challengeSize {
			t.Fatalf("Challenge() length = %d", len(ch))
		}
		if seen[ch] {
			t.Fatalf("Challenge() repeated %q", ch)
		}
		seen[ch] = true
	}
}

func TestOpenMode(t *testing.T) {
	t.Parallel()

	a := mustNew(t, "")
	if a.Configured() {
		t.Errorf("Configured() = true without a password")
	}
	if a.Response("x") != "" {
		t.Errorf("Response() should be empty without key material")
	}
	if !a.Verify("x", "anything") {
		t.Errorf("Verify() should pass without key material")
	}
	if a.UDPToken(time.Now()) != "" {
		t.Errorf("UDPToken() should be empty without key material")
	}
	if !a.AuthenticateUDP("", time.Now()) {
		t.Errorf("AuthenticateUDP() should pass without key material")
	}
}

func TestUDPTokenWindows(t *testing.T) {
	t.Parallel()

	a := mustNew(t, "secret")
	base := time.Unix(600, 0) // start of window 10

	tok := a.UDPToken(base)
	if tok != a.UDPToken(base.Add(59*time.Second)) {
		t.Errorf("token changed within one window")
	}
	if tok == a.UDPToken(base.Add(2*TokenWindow)) {
		t.Errorf("token repeated across non-adjacent windows")
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "same window", at: base.Add(30 * time.Second), want: true},
		{name: "next window", at: base.Add(TokenWindow), want: true},
		{name: "two windows later", at: base.Add(2 * TokenWindow), want: false},
		{name: "previous window", at: base.Add(-time.Second), want: false},
	}
	for _, tt := range tests {
		if got := a.AuthenticateUDP(tok, tt.at); got != tt.want {
			t.Errorf("%s: AuthenticateUDP() = %v, want %v", tt.name, got, tt.want)
		}
	}

	if a.AuthenticateUDP("", base) {
		t.Errorf("AuthenticateUDP() accepted an empty token")
	}
}

func TestUDPKeyAfterBootstrap(t *testing.T) {
	t.Parallel()

	hs, err := HashPassword("secret", DefaultIterations)
	if err != nil {
		t.Fatal(err)
	}
	server := mustNew(t, hs)
	client := mustNew(t, "secret")
	now := time.Now()

	// A plaintext client keys tokens with the password, which a hash-only
	// server cannot reproduce.
	if server.AuthenticateUDP(client.UDPToken(now), now) {
		t.Fatalf("hash-only server accepted a plaintext-keyed token")
	}

	if err := client.SetParameters(server.Salt(), server.Iterations()); err != nil {
		t.Fatal(err)
	}
	client.DropPlaintext()
	if !server.AuthenticateUDP(client.UDPToken(now), now) {
		t.Errorf("AuthenticateUDP() = false after parameter bootstrap")
	}
}

func TestSetParameters(t *testing.T) {
	t.Parallel()

	hs, err := HashPassword("secret", DefaultIterations)
	if err != nil {
		t.Fatal(err)
	}
	a := mustNew(t, hs)
	salt, iter := a.Salt(), a.Iterations()

	if err := a.SetParameters("0011", DefaultIterations); !errors.Is(err, ErrHashOnly) {
		t.Errorf("SetParameters() on hash-only error = %v, want ErrHashOnly", err)
	}
	if a.Salt() != salt || a.Iterations() != iter || a.HashString() != hs {
		t.Errorf("hash-only credential changed")
	}
	if err := a.SetParameters(salt, iter); err != nil {
		t.Errorf("SetParameters() with matching parameters error = %v", err)
	}
	if err := a.SetParameters("", 1); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("SetParameters(empty salt) error = %v", err)
	}
}
