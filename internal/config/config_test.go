package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.DBPath != "sift.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "sift.db")
	}
	if cfg.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want 5", cfg.BatchSize)
	}
	if cfg.RequestTimeout() != 10*time.Second {
		t.Errorf("RequestTimeout() = %v, want 10s", cfg.RequestTimeout())
	}
	if cfg.BatchDelay() != 500*time.Millisecond {
		t.Errorf("BatchDelay() = %v, want 500ms", cfg.BatchDelay())
	}
	if cfg.CategorizeBatchSize != 50 {
		t.Errorf("CategorizeBatchSize = %d, want 50", cfg.CategorizeBatchSize)
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"db_path": "custom.db", "batch_size": 3, "history_path": "/tmp/History"}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.DBPath != "custom.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "custom.db")
	}
	if cfg.BatchSize != 3 {
		t.Errorf("BatchSize = %d, want 3", cfg.BatchSize)
	}
	if cfg.HistoryPath != "/tmp/History" {
		t.Errorf("HistoryPath = %q, want %q", cfg.HistoryPath, "/tmp/History")
	}
	// Untouched fields still get defaults
	if cfg.TaskBatchSize != 10 {
		t.Errorf("TaskBatchSize = %d, want 10", cfg.TaskBatchSize)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "db_path: yaml.db\nai_model: some-model\nrequest_timeout_ms: 2500\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.DBPath != "yaml.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "yaml.db")
	}
	if cfg.AIModel != "some-model" {
		t.Errorf("AIModel = %q, want %q", cfg.AIModel, "some-model")
	}
	if cfg.RequestTimeout() != 2500*time.Millisecond {
		t.Errorf("RequestTimeout() = %v, want 2.5s", cfg.RequestTimeout())
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"db_path": `},
		{"timeout too small", `{"request_timeout_ms": 5}`},
		{"negative batch", `{"batch_size": -1}`},
		{"categorize batch too large", `{"categorize_batch_size": 80}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.body), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("LoadConfig() expected error, got nil")
			}
		})
	}
}
