// Package services monta o serviço de sessão e seus colaboradores a partir
// da configuração. Usado pelo app desktop e pela CLI.
package services

import (
	"context"
	"errors"
	"log"

	"butler/internal/auth"
	"butler/internal/config"
	"butler/internal/telemetry"
	"butler/internal/userstore"
)

// Services agrupa tudo que precisa ser fechado no shutdown
type Services struct {
	Config    config.Config
	Store     userstore.Backend
	Auth      *auth.Service
	Analytics *telemetry.AnalyticsSink
	Crash     *telemetry.CrashSink

	shutdownTracing func(context.Context) error
}

// Build cria e inicia o serviço de sessão. openURL pode ser nil (a URL de
// login é apenas logada).
func Build(ctx context.Context, cfg config.Config, openURL auth.URLOpener) (*Services, error) {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, config.AppName, config.AppVersion)
	if err != nil {
		log.Printf("[BUTLER] Tracing disabled: %v", err)
	}

	store, err := userstore.Open(cfg)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	analytics := telemetry.NewAnalyticsSink(telemetry.AnalyticsConfig{
		Endpoint: cfg.AnalyticsURL,
		APIKey:   cfg.AnalyticsKey,
	})
	crash := telemetry.NewCrashSink(nil)

	svc := auth.NewService(auth.ServiceDeps{
		Store:   store,
		Cloud:   auth.NewAPIClient(cfg.APIURL, nil),
		Sinks:   []auth.TelemetrySink{analytics, crash},
		OpenURL: openURL,
		Options: auth.Options{
			Dwell:        cfg.LoginDwell,
			PollInterval: cfg.LoginPollInterval,
			MaxAttempts:  cfg.LoginPollAttempts,
		},
	})
	svc.Start()

	return &Services{
		Config:          cfg,
		Store:           store,
		Auth:            svc,
		Analytics:       analytics,
		Crash:           crash,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Close desliga o serviço, drena a telemetria e fecha o store
func (s *Services) Close(ctx context.Context) error {
	s.Auth.Close()

	var errs []error
	if err := s.Analytics.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
