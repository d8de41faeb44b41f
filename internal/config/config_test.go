package config

import "testing"

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.React.MaxSteps != 25 {
		t.Errorf("React.MaxSteps = %d, want 25", cfg.React.MaxSteps)
	}
	if cfg.VectorStore.L1CacheSize != 500 {
		t.Errorf("VectorStore.L1CacheSize = %d, want 500", cfg.VectorStore.L1CacheSize)
	}
	if cfg.DoomLoop.DailyQuota != 200 {
		t.Errorf("DoomLoop.DailyQuota = %d, want 200", cfg.DoomLoop.DailyQuota)
	}
}

func TestOption_Get(t *testing.T) {
	cfg := Default()
	cfg.React.MaxSteps = 7
	opt := NewOption(cfg)

	tests := []struct {
		key  string
		want string
	}{
		{"react.max.steps", "7"},
		{"self.evolution.enabled", "false"},
		{"doomloop.dailyQuota", "200"},
		{"unknown.key", ""},
	}
	for _, tt := range tests {
		if got := opt.Get(tt.key); got != tt.want {
			t.Errorf("Get(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/codesage.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
