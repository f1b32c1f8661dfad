package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/OkGoDoIt/AugmentOS/wire"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegistrationRoundTrip(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	reg := &Registration{
		ID:            "reg-1",
		PackageName:   "org.example.captions",
		WebhookURL:    "https://captions.example.org/webhook",
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	if err := s.PutRegistration(reg); err != nil {
		t.Fatalf("PutRegistration: %v", err)
	}

	got, err := s.GetRegistration("reg-1")
	if err != nil {
		t.Fatalf("GetRegistration: %v", err)
	}
	if got.PackageName != reg.PackageName || !got.LastHeartbeat.Equal(now) {
		t.Errorf("got %+v, want %+v", got, reg)
	}

	byIdentity, err := s.FindRegistration("org.example.captions", "https://captions.example.org/webhook")
	if err != nil {
		t.Fatalf("FindRegistration: %v", err)
	}
	if byIdentity.ID != "reg-1" {
		t.Errorf("FindRegistration id = %q", byIdentity.ID)
	}

	later := now.Add(30 * time.Second)
	if err := s.TouchRegistration("reg-1", later); err != nil {
		t.Fatalf("TouchRegistration: %v", err)
	}
	got, err = s.GetRegistration("reg-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastHeartbeat.Equal(later) {
		t.Errorf("LastHeartbeat = %v, want %v", got.LastHeartbeat, later)
	}
}

func TestRegistrationNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetRegistration("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRegistration err = %v, want ErrNotFound", err)
	}
	if _, err := s.FindRegistration("pkg", "url"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindRegistration err = %v, want ErrNotFound", err)
	}
	if err := s.TouchRegistration("ghost", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("TouchRegistration err = %v, want ErrNotFound", err)
	}
}

func TestUserApps(t *testing.T) {
	s := openTestStore(t)

	pkgs, err := s.UserApps("isaiah@example.com")
	if err != nil {
		t.Fatalf("UserApps on empty store: %v", err)
	}
	if pkgs != nil {
		t.Errorf("UserApps = %v, want nil", pkgs)
	}

	want := []string{"org.example.captions", "org.example.dashboard"}
	if err := s.SetUserApps("isaiah@example.com", want); err != nil {
		t.Fatalf("SetUserApps: %v", err)
	}
	pkgs, err = s.UserApps("isaiah@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 2 || pkgs[0] != want[0] || pkgs[1] != want[1] {
		t.Errorf("UserApps = %v, want %v", pkgs, want)
	}

	// replacement, not merge
	if err := s.SetUserApps("isaiah@example.com", nil); err != nil {
		t.Fatal(err)
	}
	pkgs, err = s.UserApps("isaiah@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 0 {
		t.Errorf("UserApps after clear = %v", pkgs)
	}
}

func TestAppSettings(t *testing.T) {
	s := openTestStore(t)

	none, err := s.AppSettings("u@example.com", "org.example.captions")
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("AppSettings = %v, want nil", none)
	}

	want := []wire.AppSetting{
		{Key: "lineWidth", Type: "number", Value: json.RawMessage(`42`)},
		{Key: "theme", Type: "string", Value: json.RawMessage(`"dark"`)},
	}
	if err := s.SetAppSettings("u@example.com", "org.example.captions", want); err != nil {
		t.Fatalf("SetAppSettings: %v", err)
	}
	got, err := s.AppSettings("u@example.com", "org.example.captions")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Key != "lineWidth" || string(got[1].Value) != `"dark"` {
		t.Errorf("AppSettings = %+v", got)
	}
}
