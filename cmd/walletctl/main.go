// walletctl manages wallets on an Ethereum-compatible chain and keeps a
// ledger service in step with what happened on chain.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-wallet/internal/coordinator"
)

// Exit codes.
const (
	exitError = 1
	// exitUnsettled means a transfer may have moved funds but was not
	// fully recorded. Run walletctl reconcile; do not resend.
	exitUnsettled = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(newApp(os.Stdout))
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var pending *coordinator.PendingError
	var lw *coordinator.LedgerWriteError
	if errors.As(err, &pending) || errors.As(err, &lw) {
		return exitUnsettled
	}
	return exitError
}
