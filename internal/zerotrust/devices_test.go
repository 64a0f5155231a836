package zerotrust

import (
	"context"
	"testing"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
)

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("Mozilla/5.0 workstation-7")
	if len(fp) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(fp))
	}
	for _, c := range fp {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("non-hex character %q in fingerprint %s", c, fp)
		}
	}
	if fp != Fingerprint("Mozilla/5.0 workstation-7") {
		t.Error("fingerprint not deterministic")
	}
	if fp == Fingerprint("Mozilla/5.0 workstation-8") {
		t.Error("distinct material produced the same fingerprint")
	}
}

func TestDeviceLifecycle(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	ctx := context.Background()

	device, err := v.RegisterDevice(ctx, "alice", "fp-1", "laptop")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if device.TrustScore != 50 {
		t.Errorf("initial trust = %v, want 50", device.TrustScore)
	}
	if !device.Active {
		t.Error("new device should be active")
	}

	if _, err := v.RegisterDevice(ctx, "alice", "fp-2", "phone"); err != nil {
		t.Fatalf("register second: %v", err)
	}
	if _, err := v.RegisterDevice(ctx, "bob", "fp-3", "tablet"); err != nil {
		t.Fatalf("register for other identity: %v", err)
	}

	devices, err := v.ListDevices(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("alice devices = %d, want 2", len(devices))
	}

	if err := v.RevokeDevice(ctx, device.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	devices, err = v.ListDevices(ctx, "alice")
	if err != nil {
		t.Fatalf("list after revoke: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("active devices after revoke = %d, want 1", len(devices))
	}

	if err := v.RevokeDevice(ctx, "missing"); err != domain.ErrNotFound {
		t.Errorf("revoke missing: err = %v, want ErrNotFound", err)
	}
}

func TestRegisterDeviceDefaults(t *testing.T) {
	v, _, _ := newTestVerifier(t)

	device, err := v.RegisterDevice(context.Background(), "alice", "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if device.Name != "unknown device" {
		t.Errorf("name = %q", device.Name)
	}
	if len(device.Fingerprint) != 16 {
		t.Errorf("derived fingerprint length = %d, want 16", len(device.Fingerprint))
	}

	if _, err := v.RegisterDevice(context.Background(), "", "fp", "laptop"); err != domain.ErrInvalidInput {
		t.Errorf("missing identity: err = %v, want ErrInvalidInput", err)
	}
}

func TestSessionLookupAndExpiry(t *testing.T) {
	v, store, cache := newTestVerifier(t)
	seedIdentity(store, "alice", "user", true, false, false)

	result, err := v.Verify(context.Background(), baseRequest("alice"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Granted || result.SessionID == "" {
		t.Fatalf("expected granted result with session, got %+v", result)
	}

	session, err := v.GetSession(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.IdentityID != "alice" {
		t.Errorf("session identity = %s", session.IdentityID)
	}
	if session.ExpiresAt != result.ExpiresAt {
		t.Errorf("session expiry %v != result expiry %v", session.ExpiresAt, result.ExpiresAt)
	}

	// Advance past expiry; the cache honors TTL against the test clock.
	expired := testTime.Add(9 * time.Hour)
	cache.now = func() time.Time { return expired }
	v.SetClock(func() time.Time { return expired })

	if _, err := v.GetSession(context.Background(), result.SessionID); err != domain.ErrNotFound {
		t.Errorf("expired session: err = %v, want ErrNotFound", err)
	}
}

func TestRevokeSession(t *testing.T) {
	v, store, _ := newTestVerifier(t)
	seedIdentity(store, "alice", "user", true, false, false)

	result, err := v.Verify(context.Background(), baseRequest("alice"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := v.RevokeSession(context.Background(), result.SessionID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := v.GetSession(context.Background(), result.SessionID); err != domain.ErrNotFound {
		t.Errorf("revoked session: err = %v, want ErrNotFound", err)
	}
}
