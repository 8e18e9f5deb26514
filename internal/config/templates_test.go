package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// The template documents the defaults, so loading it must produce
// exactly the built-in configuration.
func TestTemplateRoundTripsToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if want := DefaultConfig(dir); !reflect.DeepEqual(cfg, want) {
		t.Fatalf("template drifted from the defaults:\n got %+v\nwant %+v", cfg, want)
	}
}

func TestWriteTemplateRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("version = \"v1.0.0\"\n"), 0o644); err != nil {
		t.Fatalf("write existing config: %v", err)
	}

	if err := WriteTemplate(path, false); err == nil {
		t.Fatal("WriteTemplate overwrote an existing config")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced WriteTemplate: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(data) != Template {
		t.Fatal("forced WriteTemplate did not replace the file")
	}
}
