package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	app := mustBootstrapShipAPI()
	defer app.close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runShipAPI(ctx, app.opts, app.api); err != nil && !errors.Is(err, context.Canceled) {
		panic(err)
	}
}
