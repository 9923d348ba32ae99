package cliapp

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

const defaultStopTimeout = 10 * time.Second

// Lifecycle is a service run by a CLI command. Start blocks until the work
// is done or ctx is cancelled.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stopped() bool
}

// LifecycleAction builds the service for a command invocation.
type LifecycleAction func(ctx *cli.Context) (Lifecycle, error)

// LifecycleCmd turns a LifecycleAction into a cli.ActionFunc that runs the
// service until completion or an interrupt signal, then stops it.
func LifecycleCmd(fn LifecycleAction) cli.ActionFunc {
	return func(cliCtx *cli.Context) error {
		ctx, cancel := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
		defer cancel()
		cliCtx.Context = ctx

		appLifecycle, err := fn(cliCtx)
		if err != nil {
			return err
		}

		startErr := appLifecycle.Start(ctx)
		if errors.Is(startErr, context.Canceled) {
			log.Warn("interrupted, shutting down")
			startErr = nil
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), defaultStopTimeout)
		defer stopCancel()
		if !appLifecycle.Stopped() {
			if err := appLifecycle.Stop(stopCtx); err != nil {
				return errors.Join(startErr, err)
			}
		}
		return startErr
	}
}
