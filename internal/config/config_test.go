package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NamingMaxAttempts != 9999 {
		t.Fatalf("NamingMaxAttempts = %d, want 9999", cfg.NamingMaxAttempts)
	}
	if cfg.StorageRoot != filepath.Join(tmpDir, "evidence") {
		t.Fatalf("StorageRoot = %q, want %q", cfg.StorageRoot, filepath.Join(tmpDir, "evidence"))
	}
	if cfg.LedgerPath != filepath.Join(tmpDir, "ledger.jsonl") {
		t.Fatalf("LedgerPath = %q", cfg.LedgerPath)
	}
	if cfg.ExportsDir != filepath.Join(tmpDir, "exports") {
		t.Fatalf("ExportsDir = %q", cfg.ExportsDir)
	}
	if cfg.TransferTimeout() != 30*time.Second {
		t.Fatalf("TransferTimeout() = %v, want 30s", cfg.TransferTimeout())
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"transfer_timeout_seconds": 5, "storage_root": "/srv/evidence", "device_kind": "dir"}`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TransferTimeoutSeconds != 5 {
		t.Fatalf("TransferTimeoutSeconds = %d, want 5", cfg.TransferTimeoutSeconds)
	}
	if cfg.StorageRoot != "/srv/evidence" {
		t.Fatalf("StorageRoot = %q, want /srv/evidence", cfg.StorageRoot)
	}
	if cfg.DeviceKind != DeviceKindDir {
		t.Fatalf("DeviceKind = %q, want %q", cfg.DeviceKind, DeviceKindDir)
	}
	// untouched defaults survive
	if cfg.PhotoExtension != ".jpg" {
		t.Fatalf("PhotoExtension = %q, want .jpg", cfg.PhotoExtension)
	}
}

func TestLoad_AcceptsComments(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{
		// operator recorded on every ledger entry
		"operator": "OPJ Martin",
		"remote_dirs": ["/sdcard/DCIM/Camera",], /* trailing comma */
	}`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Operator != "OPJ Martin" {
		t.Fatalf("Operator = %q", cfg.Operator)
	}
	if len(cfg.RemoteDirs) != 1 || cfg.RemoteDirs[0] != "/sdcard/DCIM/Camera" {
		t.Fatalf("RemoteDirs = %v", cfg.RemoteDirs)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{not json}`)

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	writeConfig(t, globalDir, `{"transfer_timeout_seconds": 10, "allowed_paths": ["/a"], "operator": "global"}`)
	writeConfig(t, filepath.Join(repoRoot, ".custody"), `{"operator": "repo", "allowed_paths": ["/b", "/a"]}`)

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.Operator != "repo" {
		t.Errorf("Operator = %q, want repo", cfg.Operator)
	}
	if cfg.TransferTimeoutSeconds != 10 {
		t.Errorf("TransferTimeoutSeconds = %d, want 10", cfg.TransferTimeoutSeconds)
	}
	if len(cfg.AllowedPaths) != 2 {
		t.Errorf("AllowedPaths = %v, want 2 entries", cfg.AllowedPaths)
	}
	if cfg.LedgerPath != filepath.Join(globalDir, "ledger.jsonl") {
		t.Errorf("LedgerPath = %q", cfg.LedgerPath)
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.DeviceKind != DeviceKindADB {
		t.Errorf("DeviceKind = %q, want %q", cfg.DeviceKind, DeviceKindADB)
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{TransferTimeoutSeconds: 30, LogLevel: "info"}
	overlay := &Config{TransferTimeoutSeconds: 5}

	result := Merge(base, overlay)
	if result.TransferTimeoutSeconds != 5 {
		t.Errorf("TransferTimeoutSeconds = %d, want 5", result.TransferTimeoutSeconds)
	}
	if result.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", result.LogLevel)
	}
}

func TestMerge_BooleanOr(t *testing.T) {
	result := Merge(&Config{AllowUnsafePaths: true}, &Config{RemoveRemote: true})
	if !result.AllowUnsafePaths || !result.RemoveRemote {
		t.Errorf("booleans not OR-ed: %+v", result)
	}
}

func TestMerge_RemoteDirsReplaced(t *testing.T) {
	base := &Config{RemoteDirs: []string{"/a", "/b"}}
	overlay := &Config{RemoteDirs: []string{"/c"}}

	result := Merge(base, overlay)
	if len(result.RemoteDirs) != 1 || result.RemoteDirs[0] != "/c" {
		t.Errorf("RemoteDirs = %v, want [/c]", result.RemoteDirs)
	}
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{DisabledTools: []string{"capture_take", " ledger_export "}}
	overlay := &Config{DisabledTools: []string{"ledger_export", "", "report_render"}}

	result := Merge(base, overlay)
	want := []string{"capture_take", "ledger_export", "report_render"}
	if len(result.DisabledTools) != len(want) {
		t.Fatalf("DisabledTools = %v, want %v", result.DisabledTools, want)
	}
	for i := range want {
		if result.DisabledTools[i] != want[i] {
			t.Errorf("DisabledTools[%d] = %q, want %q", i, result.DisabledTools[i], want[i])
		}
	}
}

func TestFindRepoConfig_InParentDir(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, filepath.Join(root, ".custody"), `{}`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0700); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	got := FindRepoConfig(nested)
	want := filepath.Join(root, ".custody", "config.json")
	if got != want {
		t.Errorf("FindRepoConfig() = %q, want %q", got, want)
	}
}

func TestFindRepoConfig_EmptyStart(t *testing.T) {
	if got := FindRepoConfig(""); got != "" {
		t.Errorf("FindRepoConfig(\"\") = %q, want empty", got)
	}
}
