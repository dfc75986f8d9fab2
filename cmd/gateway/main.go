// @title                       PhishGuard Gateway API
// @version                     1.0
// @description                 Authenticated gateway in front of the PhishGuard AI service, with rate limiting and graceful fallbacks.
// @BasePath                    /api
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/phishguard-gateway/internal/bootstrap"
	"github.com/tbourn/phishguard-gateway/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	v := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	if err := bootstrap.Run(context.Background(), v); err != nil {
		log.Error().Err(err).Msg("gateway failed")
		os.Exit(1)
	}
}
