package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vpcctl/vpcctl/internal/driver/netlinkdriver"
	"github.com/vpcctl/vpcctl/internal/lock"
	"github.com/vpcctl/vpcctl/internal/reconciler"
	"github.com/vpcctl/vpcctl/internal/store"
	"github.com/vpcctl/vpcctl/internal/vpcerr"
)

// stateDir/debug/lockTimeout are bound to persistent flags by
// bindPersistentFlags. stateDir and debug take their defaults from
// VPCCTL_STATE_DIR and VPCCTL_DEBUG; lockTimeout has no environment
// variable.
var (
	stateDir    string
	debug       bool
	lockTimeout time.Duration
)

const defaultStateDir = "/etc/vpcctl"

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// mutatingContext opens the Store, the real kernel Driver, and the
// append-only log, then acquires the host-wide advisory lock (§5) for
// the duration of one mutating command. Call the returned release
// function (which drops the lock and closes the log file) before
// exiting.
func mutatingContext() (*reconciler.Reconciler, func(), error) {
	st := store.New(stateDir)
	logger, logFile, err := store.OpenLog(stateDir)
	if err != nil {
		return nil, nil, err
	}
	if debug {
		logger.SetLevel(log.DebugLevel)
	}

	l := lock.New(filepath.Join(stateDir, store.LockFileName))
	if err := l.Acquire(context.Background(), lockTimeout); err != nil {
		_ = logFile.Close()
		return nil, nil, err
	}

	d, err := netlinkdriver.New()
	if err != nil {
		_ = l.Release()
		_ = logFile.Close()
		return nil, nil, err
	}

	release := func() {
		_ = l.Release()
		_ = logFile.Close()
	}
	return reconciler.New(st, d, logger, filepath.Join(stateDir, "workloads")), release, nil
}

// readOnlyContext opens just the Store, for commands like "list" that
// never touch the kernel or take the lock (§5).
func readOnlyContext() *reconciler.Reconciler {
	st := store.New(stateDir)
	logger := log.New()
	logger.SetOutput(os.Stderr)
	return reconciler.New(st, nil, logger, filepath.Join(stateDir, "workloads"))
}

// exitWith prints err to stderr and exits with the class-appropriate
// code from §6.1/§7, or 1 for an unclassified error.
func exitWith(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	code := 1
	var verr *vpcerr.Error
	if errors.As(err, &verr) {
		code = verr.ExitCode()
	}
	os.Exit(code)
}

func bindPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", envOr("VPCCTL_STATE_DIR", defaultStateDir), "metadata directory")
	cmd.PersistentFlags().BoolVar(&debug, "debug", os.Getenv("VPCCTL_DEBUG") != "", "enable debug logging")
	cmd.PersistentFlags().DurationVar(&lockTimeout, "lock-timeout", 10*time.Second, "advisory lock acquisition timeout")
}
