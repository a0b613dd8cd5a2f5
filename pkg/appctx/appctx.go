// Package appctx gives the server process one root context that cancels on
// SIGINT, so every background loop (queue runners, sweepers, the health
// maintenance ticker) winds down on the same signal instead of each
// registering its own handler.
package appctx

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

var once sync.Once
var ctx context.Context

// Context returns the process-lifetime context, cancelled on the first
// SIGINT. Safe to call repeatedly; always returns the same context.
func Context() context.Context {
	once.Do(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		go func() {
			defer cancel()
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt)
			<-c
		}()
	})
	return ctx
}
