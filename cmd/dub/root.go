package main

import (
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dub-build/dub/internal/config"
	"github.com/dub-build/dub/internal/log"
	"github.com/dub-build/dub/internal/pkgman"
	"github.com/dub-build/dub/internal/platform"
	"github.com/dub-build/dub/internal/project"
	"github.com/dub-build/dub/internal/registry"
	"github.com/dub-build/dub/internal/scm"
)

const defaultRegistryURL = "https://code.dlang.org"

type rootFlags struct {
	verbose  bool
	debug    bool
	quiet    bool
	registry string
	rootDir  string
	compiler string
	arch     string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "dub",
		Short:         "Package manager and build driver",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flags)
		},
	}
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "print operational context")
	pf.BoolVar(&flags.debug, "vverbose", false, "print debug output")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "only print errors")
	pf.StringVar(&flags.registry, "registry", defaultRegistryURL, "package registry URL")
	pf.StringVar(&flags.rootDir, "root", ".", "path to the root package")
	pf.StringVar(&flags.compiler, "compiler", "dmd", "compiler backend identifier")
	pf.StringVar(&flags.arch, "arch", runtime.GOARCH, "target architecture")

	cmd.AddCommand(
		newDescribeCmd(flags),
		newUpgradeCmd(flags),
		newFetchCmd(flags),
		newRemoveCmd(flags),
		newListCmd(flags),
	)
	return cmd
}

func setupLogging(flags *rootFlags) {
	level := slog.LevelWarn
	switch {
	case flags.debug:
		level = slog.LevelDebug
	case flags.verbose:
		level = slog.LevelInfo
	case flags.quiet:
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	log.SetDefault(log.New(handler))
}

func (f *rootFlags) platform() platform.Platform {
	osName := runtime.GOOS
	if osName == "darwin" {
		osName = "osx"
	}
	arch := f.arch
	if arch == "amd64" {
		arch = "x86_64"
	}
	return platform.Host(osName, arch, f.compiler)
}

func (f *rootFlags) manager() (*pkgman.Manager, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	inferrer := scm.New(log.Default())
	return pkgman.New(
		config.LocalPackagesDir(f.rootDir),
		cfg.UserPackagesDir(),
		cfg.SystemPackagesDir(),
		pkgman.Options{
			Overrides:    config.SearchPaths(),
			InferVersion: inferrer.InferVersion,
			Logger:       log.Default(),
		},
	), nil
}

func (f *rootFlags) project() (*project.Project, error) {
	mgr, err := f.manager()
	if err != nil {
		return nil, err
	}
	inferrer := scm.New(log.Default())
	return project.Load(f.rootDir, mgr, project.LoadOptions{
		InferVersion: inferrer.InferVersion,
		Logger:       log.Default(),
	})
}

func (f *rootFlags) suppliers() ([]registry.PackageSupplier, error) {
	s, err := registry.NewHTTPSupplier(f.registry, log.Default())
	if err != nil {
		return nil, err
	}
	return []registry.PackageSupplier{s}, nil
}
