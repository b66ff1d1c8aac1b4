// Package di provides dependency injection configuration for the Inkwell server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/inkwellapp/inkwell-server/internal/auth"
	"github.com/inkwellapp/inkwell-server/internal/config"
	"github.com/inkwellapp/inkwell-server/internal/di/providers"
	"github.com/inkwellapp/inkwell-server/internal/logger"
	"github.com/inkwellapp/inkwell-server/internal/media/covers"
	"github.com/inkwellapp/inkwell-server/internal/service"
	"github.com/inkwellapp/inkwell-server/internal/validation"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideAuthKey)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideCoverStorage)
	do.Provide(injector, providers.ProvideSearchIndex)

	// Auth layer
	do.Provide(injector, providers.ProvideTokenService)

	// Business services
	do.Provide(injector, providers.ProvideValidator)
	do.Provide(injector, providers.ProvideAuthService)
	do.Provide(injector, providers.ProvidePostService)

	// Server
	do.Provide(injector, providers.ProvideShareLimiter)
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns once the server is running.
// This triggers lazy initialization in dependency order.
func Bootstrap(injector *do.RootScope) error {
	invocations := []func() error{
		func() error { _, err := do.Invoke[*config.Config](injector); return err },
		func() error { _, err := do.Invoke[*logger.Logger](injector); return err },
		func() error { _, err := do.Invoke[providers.AuthKey](injector); return err },
		func() error { _, err := do.Invoke[*providers.StoreHandle](injector); return err },
		func() error { _, err := do.Invoke[*covers.Storage](injector); return err },
		func() error { _, err := do.Invoke[*providers.SearchIndexHandle](injector); return err },
		func() error { _, err := do.Invoke[*auth.TokenService](injector); return err },
		func() error { _, err := do.Invoke[*validation.Validator](injector); return err },
		func() error { _, err := do.Invoke[*service.AuthService](injector); return err },
		func() error { _, err := do.Invoke[*service.PostService](injector); return err },
		func() error { _, err := do.Invoke[*providers.ShareLimiterHandle](injector); return err },
		func() error { _, err := do.Invoke[*providers.HTTPServerHandle](injector); return err },
	}
	for _, invoke := range invocations {
		if err := invoke(); err != nil {
			return err
		}
	}

	// Backfill the search index after everything is wired, so a rebuilt
	// index comes back populated.
	return providers.ReindexIfEmpty(injector)
}
