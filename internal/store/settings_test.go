package store

import "testing"

func TestSettingsSeedData(t *testing.T) {
	ss := NewSettingsStore(setupTestDB(t))

	settings, err := ss.GetSchedulerSettings()
	if err != nil {
		t.Fatalf("get scheduler settings: %v", err)
	}

	expected := map[string]string{
		"backup_time":    "02:00",
		"backup_enabled": "true",
		"upcoming_days":  "30",
	}
	for key, want := range expected {
		if got := settings[key]; got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestSettingsSetAndGet(t *testing.T) {
	ss := NewSettingsStore(setupTestDB(t))

	if err := ss.Set("backup_time", "03:30"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := ss.Get("backup_time")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "03:30" {
		t.Errorf("backup_time = %q, want %q", got, "03:30")
	}
}

func TestSettingsGetMissing(t *testing.T) {
	ss := NewSettingsStore(setupTestDB(t))

	if _, err := ss.Get("nope"); err == nil {
		t.Error("expected error for missing key")
	}
	got, err := ss.GetOr("nope", "fallback")
	if err != nil {
		t.Fatalf("get or: %v", err)
	}
	if got != "fallback" {
		t.Errorf("got %q, want %q", got, "fallback")
	}
}
