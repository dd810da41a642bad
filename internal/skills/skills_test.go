package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInstallCopiesBuiltinBundlesIntoRepo(t *testing.T) {
	repo := t.TempDir()

	installed, err := Install(repo, false)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(installed) == 0 {
		t.Fatalf("expected at least one bundle installed")
	}

	for _, name := range installed {
		skillFile := filepath.Join(repo, ".gralph", "skills", name, "SKILL.md")
		if _, err := os.Stat(skillFile); err != nil {
			t.Fatalf("expected %q to exist: %v", skillFile, err)
		}
	}
}

func TestInstallSkipsExistingBundlesUnlessForced(t *testing.T) {
	repo := t.TempDir()

	names, err := BuiltinNames()
	if err != nil {
		t.Fatalf("builtin names: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("expected builtin bundles")
	}

	if _, err := Install(repo, false); err != nil {
		t.Fatalf("first install: %v", err)
	}

	target := filepath.Join(repo, ".gralph", "skills", names[0], "SKILL.md")
	if err := os.WriteFile(target, []byte("local edit"), 0o644); err != nil {
		t.Fatalf("simulate local edit: %v", err)
	}

	if _, err := Install(repo, false); err != nil {
		t.Fatalf("second install: %v", err)
	}
	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(content) != "local edit" {
		t.Fatalf("expected local edit preserved without force, got %q", content)
	}

	if _, err := Install(repo, true); err != nil {
		t.Fatalf("forced install: %v", err)
	}
	content, err = os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target after force: %v", err)
	}
	if string(content) == "local edit" {
		t.Fatalf("expected force install to overwrite local edit")
	}
}

func TestInstallRequiresRepoPath(t *testing.T) {
	if _, err := Install("", false); err == nil {
		t.Fatalf("expected error for empty repo path")
	}
}
