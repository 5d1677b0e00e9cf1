// Command tessera prepares the store of a tessera application and manages
// its backups.
//
// The store and the backup sink are described by a YAML file given with
// --config, overridden by TESSERA_* environment variables:
//
//	tessera migrate -c tessera.yaml
//	tessera export -c tessera.yaml
//	tessera inspect -c tessera.yaml latest
//	tessera import -c tessera.yaml tessera-20260401T100000Z.mpk
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/syssam/tessera/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tessera: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
