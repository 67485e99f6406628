// Command apl is the per-user package manager CLI: a thin cobra shell
// wiring resolve.Resolver, install.Engine, ops.Manager, statedb.Handle,
// store.Store and activate.Activator together.
//
// Grounded on the cobra root/subcommand-constructor shape from
// roach88-nysm/brutalist/internal/cli/root.go (Options struct carrying
// global flags, PersistentPreRunE validation, cmd.AddCommand per verb
// constructor) — its predecessor's own deb-pm used a flat os.Args switch plus
// flag.NewFlagSet instead, which does not extend cleanly to fourteen
// verbs with shared global flags.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/aplpm/apl/config"
	"github.com/aplpm/apl/internal/paths"
	"github.com/aplpm/apl/ops"
	"github.com/aplpm/apl/report"
	"github.com/aplpm/apl/statedb"
)

// exitCode bundles an error with the process exit status it should produce:
// 0 success, 1 user error, 2 integrity failure, 3 I/O/network, 4 internal.
type exitCode struct {
	Code int
	Err  error
}

func (e *exitCode) Error() string { return e.Err.Error() }
func (e *exitCode) Unwrap() error { return e.Err }

func userErr(format string, args ...any) error {
	return &exitCode{Code: 1, Err: fmt.Errorf(format, args...)}
}

func integrityErr(format string, args ...any) error {
	return &exitCode{Code: 2, Err: fmt.Errorf(format, args...)}
}

func ioErr(format string, args ...any) error {
	return &exitCode{Code: 3, Err: fmt.Errorf(format, args...)}
}

func internalErr(format string, args ...any) error {
	return &exitCode{Code: 4, Err: fmt.Errorf(format, args...)}
}

// Options holds the global flags and lazily-opened shared state every
// subcommand needs. It is constructed once by NewRootCommand and passed by
// pointer to every subcommand constructor.
type Options struct {
	Format  string // "text" | "json"
	DryRun  bool

	Paths  paths.Paths
	Config config.Config
	DB     *statedb.Handle
	Ops    *ops.Manager

	Out io.Writer
}

// Reporter builds the event sink matching --format.
func (o *Options) Reporter() report.Reporter {
	if o.Format == "json" {
		var mu sync.Mutex
		return report.JSONReporter{Emit: func(line string) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(o.Out, line)
		}}
	}
	return &report.TextReporter{Out: o.Out}
}

// ValidFormats enumerates the allowed --format values.
var ValidFormats = []string{"text", "json"}

func isValidFormat(f string) bool {
	for _, v := range ValidFormats {
		if v == f {
			return true
		}
	}
	return false
}

// NewRootCommand builds the apl root command and every subcommand.
func NewRootCommand() *cobra.Command {
	opts := &Options{Out: os.Stdout}

	cmd := &cobra.Command{
		Use:   "apl",
		Short: "apl — a per-user package manager",
		Long: `apl fetches signed pre-built artifacts, verifies them, and activates one
version per package into a per-user bin directory, with switch/rollback
and reproducible per-project installs via a manifest and lockfile.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return userErr("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return setupSharedState(opts)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.DB != nil {
				return opts.DB.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVar(&opts.DryRun, "dry-run", false, "report what would happen without writing anything")

	cmd.AddCommand(
		newInstallCommand(opts),
		newRemoveCommand(opts),
		newUseCommand(opts),
		newSwitchCommand(opts),
		newRollbackCommand(opts),
		newListCommand(opts),
		newSearchCommand(opts),
		newInfoCommand(opts),
		newHistoryCommand(opts),
		newStatusCommand(opts),
		newUpdateCommand(opts),
		newUpgradeCommand(opts),
		newCleanCommand(opts),
		newHashCommand(opts),
	)

	return cmd
}

// setupSharedState resolves the on-disk layout, loads the operator config
// and opens the state database once per invocation, ahead of every verb.
func setupSharedState(opts *Options) error {
	p, err := paths.Resolve()
	if err != nil {
		return internalErr("resolve apl home: %w", err)
	}
	if err := p.EnsureAll(); err != nil {
		return internalErr("create apl home: %w", err)
	}
	opts.Paths = p

	cfgPath := filepath.Join(p.Home, "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return internalErr("load config: %w", err)
	}
	opts.Config = cfg

	db, err := statedb.Open(p.StateDB)
	if err != nil {
		return internalErr("open state database: %w", err)
	}
	opts.DB = db
	opts.Ops = ops.New(p, db)
	return nil
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		ec := 4
		var xc *exitCode
		if errors.As(err, &xc) {
			ec = xc.Code
		}
		fmt.Fprintln(os.Stderr, "apl:", err)
		os.Exit(ec)
	}
}
