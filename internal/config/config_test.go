package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewUsesHomeOverride(t *testing.T) {
	t.Setenv(EnvHome, "/custom/dub-home")
	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if c.HomeDir != "/custom/dub-home" {
		t.Errorf("HomeDir = %q", c.HomeDir)
	}
	if got := c.UserPackagesDir(); got != filepath.Join("/custom/dub-home", "packages") {
		t.Errorf("UserPackagesDir = %q", got)
	}
}

func TestSearchPaths(t *testing.T) {
	t.Setenv(EnvPath, strings.Join([]string{"/a", "", "/b"}, string(os.PathListSeparator)))
	paths := SearchPaths()
	if len(paths) != 2 || paths[0] != "/a" || paths[1] != "/b" {
		t.Errorf("SearchPaths = %v", paths)
	}

	t.Setenv(EnvPath, "")
	if got := SearchPaths(); got != nil {
		t.Errorf("SearchPaths with empty env = %v", got)
	}
}

func TestExtraDFlags(t *testing.T) {
	t.Setenv(EnvDFlags, " -g  -preview=dip1000 ")
	flags := ExtraDFlags()
	if len(flags) != 2 || flags[0] != "-g" || flags[1] != "-preview=dip1000" {
		t.Errorf("ExtraDFlags = %v", flags)
	}
}

func TestMarkPackageUsed(t *testing.T) {
	t.Setenv(EnvPackagesUsed, "outer,mid")
	if got := MarkPackageUsed("inner"); got != "outer,mid,inner" {
		t.Errorf("MarkPackageUsed = %q", got)
	}
	if got := MarkPackageUsed("mid"); got != "outer,mid" {
		t.Errorf("MarkPackageUsed on existing = %q", got)
	}
}
