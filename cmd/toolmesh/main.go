// Command toolmesh runs tool-use loops between a language model and tool
// provider processes, and serves the built-in providers over stdio.
//
//	toolmesh run -c toolmesh.yaml "summarize the open tasks"
//	toolmesh tools -c toolmesh.yaml --yaml
//	toolmesh provider files --root .
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		os.Exit(1)
	}
}
