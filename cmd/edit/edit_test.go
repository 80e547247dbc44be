package edit

import (
	"os"
	"path/filepath"
	"testing"

	"lullaby/pkg/config"
)

func TestEnsureConfig_WritesLoadableTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := ensureConfig(path); err != nil {
		t.Fatalf("ensure config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if err := cfg.Validate(config.RoleController); err != nil {
		t.Errorf("template does not validate: %v", err)
	}
}

func TestEnsureConfig_KeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("log_level = \"debug\"\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ensureConfig(path); err != nil {
		t.Fatalf("ensure config: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "log_level = \"debug\"\n" {
		t.Errorf("existing config overwritten: %q", data)
	}
}

func TestFindEditor_PrefersEnv(t *testing.T) {
	t.Setenv("EDITOR", "my-editor")
	got, err := findEditor()
	if err != nil || got != "my-editor" {
		t.Errorf("findEditor: got %q, %v", got, err)
	}
}
