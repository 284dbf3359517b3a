package app

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hitoshi/dailydigest/internal/config"
	"github.com/hitoshi/dailydigest/internal/database"
	"github.com/hitoshi/dailydigest/internal/storage"
)

func newServicesConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DatabaseURL:       unreachableDatabaseURL,
		SecretKey:         "test-secret-key",
		APIToken:          "test-api-token",
		DefaultLanguage:   "ru",
		StorageType:       config.StorageLocal,
		StorageDir:        t.TempDir(),
		QueueWorkers:      1,
		QueueSize:         4,
		QueueMaxAttempts:  1,
		ClassifyBatchSize: 10,
	}
}

func TestBuildServices_WiresWithoutProviders(t *testing.T) {
	cfg := newServicesConfig(t)
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	svc, err := buildServices(cfg, db, logger)
	if err != nil {
		t.Fatalf("buildServices: %v", err)
	}

	if svc.dispatcher == nil || svc.queue == nil || svc.registry == nil {
		t.Fatal("expected dispatcher, queue and registry to be wired")
	}
	if svc.storageDir != cfg.StorageDir {
		t.Errorf("storageDir = %q, want %q", svc.storageDir, cfg.StorageDir)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"tts_providers":0`)) {
		t.Errorf("expected tts provider count in log, got %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"ai_classification":false`)) {
		t.Errorf("expected AI classification to be disabled without a key, got %s", buf.String())
	}
}

func TestBuildServices_WithProviderKeys(t *testing.T) {
	cfg := newServicesConfig(t)
	cfg.AIClassification = true
	cfg.OpenAIAPIKey = "sk-test"
	cfg.ElevenLabsAPIKey = "el-test"

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if _, err := buildServices(cfg, db, logger); err != nil {
		t.Fatalf("buildServices: %v", err)
	}

	for _, want := range []string{`"tts_providers":2`, `"ai_classification":true`, `"summarizer":true`} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Errorf("expected %s in log, got %s", want, buf.String())
		}
	}
}

func TestBuildServices_KeywordsFile(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "keywords.yaml")
	if err := os.WriteFile(valid, []byte("languages:\n  en:\n    work: [deadline]\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "valid override", path: valid},
		{name: "missing file", path: filepath.Join(dir, "missing.yaml"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newServicesConfig(t)
			cfg.KeywordsFile = tt.path

			db, err := database.Open(cfg.DatabaseURL)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer db.Close()

			_, err = buildServices(cfg, db, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)))
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewBlobStore(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		dir := t.TempDir()
		store, storageDir, err := newBlobStore(&config.Config{StorageType: config.StorageLocal, StorageDir: dir})
		if err != nil {
			t.Fatalf("newBlobStore: %v", err)
		}
		if _, ok := store.(*storage.LocalStore); !ok {
			t.Errorf("store = %T, want *storage.LocalStore", store)
		}
		if storageDir != dir {
			t.Errorf("storageDir = %q, want %q", storageDir, dir)
		}
	})

	t.Run("s3", func(t *testing.T) {
		store, storageDir, err := newBlobStore(&config.Config{
			StorageType: config.StorageS3,
			S3Endpoint:  "localhost:9000",
			S3Bucket:    "briefings",
		})
		if err != nil {
			t.Fatalf("newBlobStore: %v", err)
		}
		if _, ok := store.(*storage.S3Store); !ok {
			t.Errorf("store = %T, want *storage.S3Store", store)
		}
		if storageDir != "" {
			t.Errorf("storageDir = %q, want empty", storageDir)
		}
	})
}
