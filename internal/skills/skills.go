// Package skills installs "skill" prompt bundles into a target repo. A
// bundle is a named directory of prompt-template files; installing one is a
// plain filesystem copy from the embedded builtin set into
// .gralph/skills/<name>/, the same embed-plus-repo-directory shape
// agentengine uses for engine catalogs.
package skills

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed builtin
var builtinFS embed.FS

const (
	builtinDir       = "builtin"
	installConfigDir = ".gralph"
	installRelPath   = "skills"
)

// Install copies every builtin skill bundle into
// <repo>/.gralph/skills/<name>/. Existing bundle directories are left alone
// unless force is set, in which case they are overwritten. Install returns
// the names of the bundles it installed, sorted.
func Install(repo string, force bool) ([]string, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return nil, fmt.Errorf("skills: repo path is required")
	}

	names, err := BuiltinNames()
	if err != nil {
		return nil, err
	}

	destRoot := filepath.Join(repo, installConfigDir, installRelPath)
	installed := make([]string, 0, len(names))
	for _, name := range names {
		dest := filepath.Join(destRoot, name)
		if !force {
			if _, err := os.Stat(dest); err == nil {
				continue
			} else if !os.IsNotExist(err) {
				return installed, fmt.Errorf("skills: stat %q: %w", dest, err)
			}
		} else if err := os.RemoveAll(dest); err != nil {
			return installed, fmt.Errorf("skills: remove existing bundle %q: %w", dest, err)
		}

		src := filepath.ToSlash(filepath.Join(builtinDir, name))
		if err := copyBundle(src, dest); err != nil {
			return installed, fmt.Errorf("skills: install %q: %w", name, err)
		}
		installed = append(installed, name)
	}

	sort.Strings(installed)
	return installed, nil
}

// BuiltinNames returns the names of every skill bundle embedded in the
// binary, sorted.
func BuiltinNames() ([]string, error) {
	entries, err := fs.ReadDir(builtinFS, builtinDir)
	if err != nil {
		return nil, fmt.Errorf("skills: read builtin bundles: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func copyBundle(src, dest string) error {
	return fs.WalkDir(builtinFS, src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		payload, err := fs.ReadFile(builtinFS, path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, payload, 0o644)
	})
}
