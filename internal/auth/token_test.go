package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testCodec(t *testing.T, opts ...CodecOption) *Codec {
	t.Helper()
	c, err := NewCodec("unit-test-secret", opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	c := testCodec(t)
	user := UserClaims{
		UserName: "ACMEadmin",
		ClientID: "client-1",
		Permissions: Tree{
			ModuleClients: {Actions: ActionSet{Read: true}},
		},
	}

	token, expiresAt, err := c.Issue(user, KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiry, got %v", expiresAt)
	}

	claims, err := c.Verify(token, KindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.User.UserName != "ACMEadmin" || claims.User.ClientID != "client-1" {
		t.Fatalf("identity not preserved: %+v", claims.User)
	}
	if !claims.User.Permissions.Allows(ModuleClients, ActionRead) {
		t.Fatal("permission snapshot not preserved")
	}
	if claims.User.Permissions.Allows(ModuleClients, ActionDelete) {
		t.Fatal("permission snapshot widened in transit")
	}
	if claims.ID == "" {
		t.Fatal("expected jti claim")
	}
}

func TestVerifyRejectsKindMismatch(t *testing.T) {
	c := testCodec(t)
	user := UserClaims{UserName: "u", ClientID: "c"}

	refresh, _, err := c.Issue(user, KindRefresh)
	if err != nil {
		t.Fatalf("Issue refresh: %v", err)
	}
	if _, err := c.Verify(refresh, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}

	access, _, err := c.Issue(user, KindAccess)
	if err != nil {
		t.Fatalf("Issue access: %v", err)
	}
	if _, err := c.Verify(access, KindRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted as refresh token: %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	clock := now
	c := testCodec(t, WithAccessTTL(time.Minute), WithClock(func() time.Time { return clock }))

	token, _, err := c.Issue(UserClaims{UserName: "u"}, KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := c.Verify(token, KindAccess); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	clock = now.Add(2 * time.Minute)
	if _, err := c.Verify(token, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	c := testCodec(t)
	token, _, err := c.Issue(UserClaims{UserName: "u"}, KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %d parts", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := c.Verify(tampered, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token accepted: %v", err)
	}

	other := testCodec(t)
	other.secret = []byte("a-different-secret")
	if _, err := other.Verify(token, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token accepted under wrong secret: %v", err)
	}

	if _, err := c.Verify("", KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("empty token must be invalid")
	}
	if _, err := c.Verify("not-a-jwt", KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("garbage token must be invalid")
	}
}

func TestIssueSnapshotsPermissions(t *testing.T) {
	c := testCodec(t)
	tree := Tree{ModuleCrop: {Actions: ActionSet{Read: true}}}
	token, _, err := c.Issue(UserClaims{UserName: "u", Permissions: tree}, KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Mutating the source tree after issuance must not affect the token.
	tree[ModuleCrop] = Permission{Actions: FullAccess()}

	claims, err := c.Verify(token, KindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.User.Permissions.Allows(ModuleCrop, ActionDelete) {
		t.Fatal("post-issuance mutation leaked into the token")
	}
}

func TestNewCodecRequiresSecret(t *testing.T) {
	if _, err := NewCodec(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewCodec("   "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}
