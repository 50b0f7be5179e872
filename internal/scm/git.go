// Package scm infers package versions from the source control state of
// a package directory.
package scm

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/version"
)

// ErrSCMUnavailable reports that no usable SCM state was found; callers
// degrade to the ~master sentinel.
type ErrSCMUnavailable struct {
	Dir string
	Err error
}

func (e *ErrSCMUnavailable) Error() string {
	return fmt.Sprintf("no SCM version information in %s: %v", e.Dir, e.Err)
}

func (e *ErrSCMUnavailable) Unwrap() error { return e.Err }

// describeRe matches `git describe --long --tags` output for a version
// tag: v<semver>-<commits>-g<hash>.
var describeRe = regexp.MustCompile(`^v(.+)-(\d+)-g([0-9a-f]+)$`)

// Inferrer computes versions from git state. The exec function is
// injectable for tests.
type Inferrer struct {
	logger log.Logger
	run    func(dir string, args ...string) (string, error)
}

// New creates an Inferrer that shells out to git.
func New(logger log.Logger) *Inferrer {
	if logger == nil {
		logger = log.Default()
	}
	return &Inferrer{logger: logger, run: runGit}
}

// NewWithRunner creates an Inferrer with a custom command runner, used
// by tests.
func NewWithRunner(logger log.Logger, run func(dir string, args ...string) (string, error)) *Inferrer {
	if logger == nil {
		logger = log.Default()
	}
	return &Inferrer{logger: logger, run: run}
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// InferVersion determines the version of the package rooted at dir from
// its git state: an exact version tag yields that version, commits past
// a tag append +commit.<N>.<hash>, and an untagged history falls back to
// the branch. On Windows the result is cached in <dir>/.dub/version.json
// keyed by the HEAD commit so repeated loads skip the external call.
func (i *Inferrer) InferVersion(dir string) (version.Version, error) {
	useCache := runtime.GOOS == "windows"
	var head string
	if useCache {
		var err error
		head, err = i.run(dir, "rev-parse", "HEAD")
		if err != nil {
			return version.Version{}, &ErrSCMUnavailable{Dir: dir, Err: err}
		}
		if v, ok := i.readCache(dir, head); ok {
			return v, nil
		}
	}

	v, err := i.describe(dir)
	if err != nil {
		return version.Version{}, err
	}

	if useCache && head != "" {
		i.writeCache(dir, head, v)
	}
	return v, nil
}

func (i *Inferrer) describe(dir string) (version.Version, error) {
	out, err := i.run(dir, "describe", "--long", "--tags")
	if err == nil {
		if m := describeRe.FindStringSubmatch(out); m != nil {
			if v, err := parseDescribe(m[1], m[2], m[3]); err == nil {
				return v, nil
			}
		}
	}

	// no usable tag: fall back to the branch name
	branch, berr := i.run(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if berr != nil {
		return version.Version{}, &ErrSCMUnavailable{Dir: dir, Err: berr}
	}
	if branch == "" || branch == "HEAD" {
		return version.Version{}, &ErrSCMUnavailable{Dir: dir, Err: fmt.Errorf("detached HEAD")}
	}
	return version.Parse("~" + branch)
}

func parseDescribe(semverStr, commits, hash string) (version.Version, error) {
	n, err := strconv.Atoi(commits)
	if err != nil {
		return version.Version{}, err
	}
	if n == 0 {
		return version.Parse(semverStr)
	}
	sep := "+"
	if strings.ContainsRune(semverStr, '+') {
		sep = "."
	}
	return version.Parse(fmt.Sprintf("%s%scommit.%d.%s", semverStr, sep, n, hash))
}

// versionCache is the on-disk shape of <dir>/.dub/version.json.
type versionCache struct {
	Commit  string `json:"commit"`
	Version string `json:"version"`
}

func cachePath(dir string) string {
	return filepath.Join(dir, ".dub", "version.json")
}

func (i *Inferrer) readCache(dir, head string) (version.Version, bool) {
	data, err := os.ReadFile(cachePath(dir))
	if err != nil {
		return version.Version{}, false
	}
	var c versionCache
	if err := json.Unmarshal(data, &c); err != nil {
		i.logger.Warn("ignoring malformed version cache", "path", cachePath(dir), "error", err)
		return version.Version{}, false
	}
	if c.Commit != head {
		return version.Version{}, false
	}
	v, err := version.Parse(c.Version)
	if err != nil {
		return version.Version{}, false
	}
	return v, true
}

func (i *Inferrer) writeCache(dir, head string, v version.Version) {
	path := cachePath(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	data, err := json.MarshalIndent(versionCache{Commit: head, Version: v.String()}, "", "\t")
	if err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
	}
}
