// Package platform models the build target a project is being composed
// for and the platform-filter suffixes recipes attach to their settings.
package platform

import (
	"fmt"
	"strings"
)

// Platform identifies a build target: operating system, architecture and
// compiler backend. Every field holds canonical lowercase tokens.
type Platform struct {
	// OS holds the operating-system tokens that apply to the target,
	// most specific first (e.g. ["linux", "posix"]).
	OS []string

	// Arch holds the architecture tokens (e.g. ["x86_64"]).
	Arch []string

	// Compiler is the compiler backend token (e.g. "dmd", "ldc").
	Compiler string
}

// Host returns a Platform for the given primary OS, architecture and
// compiler, filling in the implied umbrella tokens.
func Host(os, arch, compiler string) Platform {
	p := Platform{Arch: []string{arch}, Compiler: compiler}
	p.OS = append(p.OS, os)
	if os != "windows" {
		p.OS = append(p.OS, "posix")
	}
	return p
}

var knownOS = map[string]bool{
	"windows": true, "linux": true, "osx": true, "posix": true,
	"freebsd": true, "openbsd": true, "netbsd": true, "dragonflybsd": true,
	"solaris": true, "android": true, "ios": true, "watchos": true,
	"tvos": true, "cygwin": true, "wasm": true,
}

var knownArch = map[string]bool{
	"x86": true, "x86_64": true, "arm": true, "aarch64": true,
	"arm64": true, "ppc": true, "ppc64": true, "riscv32": true,
	"riscv64": true, "mips": true, "mips64": true, "wasm32": true,
	"wasm64": true,
}

var knownCompiler = map[string]bool{
	"dmd": true, "gdc": true, "ldc": true, "sdc": true,
}

// IsKnownToken reports whether tok is a recognized platform-filter token.
func IsKnownToken(tok string) bool {
	return knownOS[tok] || knownArch[tok] || knownCompiler[tok]
}

// ValidateFilter checks a platform-filter string (hyphen-joined tokens,
// e.g. "linux-x86_64-ldc"). An empty filter is valid and matches
// everything.
func ValidateFilter(filter string) error {
	if filter == "" {
		return nil
	}
	for _, tok := range strings.Split(filter, "-") {
		if !IsKnownToken(tok) {
			return fmt.Errorf("unknown platform token %q in filter %q", tok, filter)
		}
	}
	return nil
}

// Matches reports whether the platform satisfies the filter. Every token
// in the filter must match one of the platform's token sets; an empty
// filter matches every platform.
func (p Platform) Matches(filter string) bool {
	if filter == "" {
		return true
	}
	for _, tok := range strings.Split(filter, "-") {
		if !p.matchesToken(tok) {
			return false
		}
	}
	return true
}

func (p Platform) matchesToken(tok string) bool {
	for _, o := range p.OS {
		if o == tok {
			return true
		}
	}
	for _, a := range p.Arch {
		if a == tok {
			return true
		}
	}
	return p.Compiler == tok
}

// MatchesAny reports whether the platform satisfies at least one of the
// filters. An empty filter list admits every platform.
func (p Platform) MatchesAny(filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if p.Matches(f) {
			return true
		}
	}
	return false
}

// SplitFieldName splits a settings key of the shape
// "<attribute>[-<platform-filter>]" into the attribute and the filter.
// The attribute is the longest leading run of segments that does not form
// a platform token, so "dflags-linux-x86_64" yields ("dflags",
// "linux-x86_64") and "preBuildCommands" yields itself with an empty
// filter.
func SplitFieldName(key string) (attr, filter string) {
	segs := strings.Split(key, "-")
	for i := 1; i < len(segs); i++ {
		if IsKnownToken(segs[i]) {
			return strings.Join(segs[:i], "-"), strings.Join(segs[i:], "-")
		}
	}
	return key, ""
}

func (p Platform) String() string {
	parts := append([]string{}, p.OS...)
	parts = append(parts, p.Arch...)
	if p.Compiler != "" {
		parts = append(parts, p.Compiler)
	}
	return strings.Join(parts, "-")
}
