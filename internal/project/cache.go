package project

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/dub-build/dub/internal/config"
	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/version"
)

// cacheFileName is the per-project cache under <root>/.dub/.
const cacheFileName = "dub.json"

// cacheMaxAge bounds how long a cached upgrade result stays usable.
const cacheMaxAge = 24 * time.Hour

// projectCache holds the per-project state that survives between runs:
// the last upgrade timestamp and the cached upgrade result.
type projectCache struct {
	LastUpgrade    time.Time                     `json:"lastUpgrade"`
	CachedUpgrades map[string]version.Dependency `json:"cachedUpgrades,omitempty"`
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// loadProjectCache reads <root>/.dub/dub.json. A missing file yields an
// empty cache; an unreadable or malformed file degrades to an empty cache
// with a warning.
func loadProjectCache(rootDir string, logger log.Logger) *projectCache {
	c := &projectCache{}
	path := filepath.Join(config.ProjectCacheDir(rootDir), cacheFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c
	}
	if err != nil {
		logger.Warn("failed to read project cache", "path", path, "error", err)
		return c
	}
	if err := json.Unmarshal(data, c); err != nil {
		logger.Warn("ignoring malformed project cache", "path", path, "error", err)
		return &projectCache{}
	}
	return c
}

func (c *projectCache) cachedResult() (map[string]version.Dependency, bool) {
	if c.CachedUpgrades == nil || time.Since(c.LastUpgrade) > cacheMaxAge {
		return nil, false
	}
	out := make(map[string]version.Dependency, len(c.CachedUpgrades))
	for name, dep := range c.CachedUpgrades {
		out[name] = dep
	}
	return out, true
}

func (c *projectCache) storeResult(result map[string]version.Dependency) {
	c.LastUpgrade = time.Now()
	c.CachedUpgrades = make(map[string]version.Dependency, len(result))
	for name, dep := range result {
		c.CachedUpgrades[name] = dep
	}
}

// save writes the cache with a temporary-then-rename. Failures are
// logged, not fatal: the cache is advisory.
func (c *projectCache) save(rootDir string, logger log.Logger) {
	dir := config.ProjectCacheDir(rootDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn("failed to create project cache directory", "dir", dir, "error", err)
		return
	}
	path := filepath.Join(dir, cacheFileName)
	data, err := json.MarshalIndent(c, "", "\t")
	if err != nil {
		logger.Warn("failed to encode project cache", "error", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		logger.Warn("failed to write project cache", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		logger.Warn("failed to move project cache into place", "path", path, "error", err)
	}
}
