package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vango-dev/devpack/internal/ipc"
)

// snapshot is the result of reading the output directory once.
type snapshot struct {
	assets []ipc.Asset
	hashes map[string]string
	hash   string
}

// readDir loads every regular file under dir. Names are slash separated and
// relative to dir. progress is called after each file.
func readDir(dir string, progress func(done, total int)) (*snapshot, error) {
	var names []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && ignored(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignored(d.Name()) || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	snap := &snapshot{hashes: make(map[string]string, len(names))}
	all := sha256.New()
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		snap.hashes[name] = hex.EncodeToString(sum[:])
		all.Write([]byte(name))
		all.Write(sum[:])

		a := ipc.Asset{Name: name, Data: data}
		a.Info.HotModuleReplacement = strings.Contains(name, ".hot-update.")
		if present[name+".map"] {
			a.Info.Related = map[string]string{"sourceMap": name + ".map"}
		}
		snap.assets = append(snap.assets, a)
		if progress != nil {
			progress(i+1, len(names))
		}
	}
	snap.hash = hex.EncodeToString(all.Sum(nil))[:20]
	return snap, nil
}

// changedModules lists the assets whose content differs from prev.
func (s *snapshot) changedModules(prev *snapshot) map[string]string {
	changed := make(map[string]string)
	for name, h := range s.hashes {
		if prev == nil || prev.hashes[name] != h {
			if strings.HasSuffix(name, ".map") {
				continue
			}
			changed[name] = name
		}
	}
	return changed
}

func (s *snapshot) stats(platform string, prev *snapshot, elapsed time.Duration) *ipc.Stats {
	return &ipc.Stats{
		Name:           platform,
		Hash:           s.hash,
		Time:           elapsed.Milliseconds(),
		Errors:         []string{},
		Warnings:       []string{},
		ChangedModules: s.changedModules(prev),
	}
}

// ignored skips editor and VCS droppings.
func ignored(name string) bool {
	switch {
	case name == ".git", name == ".DS_Store":
		return true
	case strings.HasSuffix(name, ".swp"), strings.HasSuffix(name, ".tmp"), strings.HasSuffix(name, "~"):
		return true
	}
	return false
}
