// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package cli contains helpers shared by the uki-manager commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// WithContext wraps function call to provide a context cancellable with ^C.
//
// After the first signal the default signal handling is restored, so a second ^C aborts immediately.
func WithContext(ctx context.Context, f func(context.Context) error) error {
	wrappedCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-wrappedCtx.Done():
			stop()

			if ctx.Err() == nil {
				fmt.Fprintln(os.Stderr, "Signal received, aborting, press Ctrl+C once again to abort immediately...")
			}
		case <-done:
		}
	}()

	return f(wrappedCtx)
}
