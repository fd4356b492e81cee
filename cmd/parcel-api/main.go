package main

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func main() {
	app := mustBootstrapParcelAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		app.log.Error("parcel-api stopped", zap.Error(err))
		panic(err)
	}
}
