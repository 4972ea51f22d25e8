package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anita5511/oneplace"
	"github.com/anita5511/oneplace/internal/api"
	"github.com/anita5511/oneplace/internal/config"
	"github.com/anita5511/oneplace/internal/content"
	"github.com/anita5511/oneplace/internal/preferences"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// missing secrets stop the process here
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		log.Info().Str("mode", string(cfg.GoogleVerifyMode)).Msg("Initializing identity verifier...")
		verifier, err := oneplace.NewVerifier(ctx, cfg.Verifier())
		if err != nil {
			return fmt.Errorf("building verifier: %w", err)
		}
		if err := verifier.Warmup(ctx, "google"); err != nil {
			log.Warn().Err(err).Msg("could not prefetch signing keys, retrying on first login")
		}

		gateway, err := oneplace.NewGateway(cfg.Session())
		if err != nil {
			return fmt.Errorf("building session gateway: %w", err)
		}

		store, closeStore, err := openPreferencesStore(ctx, cfg.PreferencesBackend)
		if err != nil {
			return err
		}
		defer closeStore()

		news, err := content.NewNewsClient(content.Options{
			BaseURL: cfg.NewsBaseURL,
			APIKey:  cfg.NewsAPIKey,
			Timeout: cfg.UpstreamTimeout,
		})
		if err != nil {
			return err
		}
		weather, err := content.NewWeatherClient(content.Options{
			BaseURL: cfg.WeatherBaseURL,
			APIKey:  cfg.WeatherAPIKey,
			Timeout: cfg.UpstreamTimeout,
		})
		if err != nil {
			return err
		}
		if cfg.NewsAPIKey == "" {
			log.Warn().Msg("NEWS_API_KEY not set, /api/news serves sample articles")
		}
		if cfg.WeatherAPIKey == "" {
			log.Warn().Msg("WEATHER_API_KEY not set, /api/weather serves sample conditions")
		}

		srv := api.NewServer(api.Options{
			Verifier:    verifier,
			Gateway:     gateway,
			Preferences: preferences.NewService(store),
			News:        news,
			Weather:     weather,
			CORSOrigins: cfg.CORSOrigins,
		})

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Msgf("Starting server on %s...", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server crashed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		log.Info().Msg("Server exited")
		return nil
	},
}

// openPreferencesStore returns the configured store and a function releasing it.
func openPreferencesStore(ctx context.Context, backend string) (preferences.Store, func(), error) {
	switch backend {
	case config.BackendRedis:
		rc, err := preferences.RedisConfigFromEnvironment()
		if err != nil {
			return nil, nil, err
		}
		client, err := preferences.NewRedisClient(ctx, rc)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("host", rc.Host).Int("db", rc.DB).Msg("Using redis preferences store")
		return preferences.NewRedisStore(client, rc.Prefix), func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("closing redis client")
			}
		}, nil
	default:
		log.Info().Msg("Using in-memory preferences store, contents are lost on restart")
		return preferences.NewMemoryStore(), func() {}, nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 3001, "port to listen on")
	_ = viper.BindPFlag(config.PortKey, serveCmd.Flags().Lookup("port"))

	serveCmd.Flags().String("preferences-backend", config.BackendMemory, "preferences store (memory, redis)")
	_ = viper.BindPFlag(config.PreferencesBackendKey, serveCmd.Flags().Lookup("preferences-backend"))

	serveCmd.Flags().StringSlice("cors-origins", nil, "allowed CORS origins")
	_ = viper.BindPFlag(config.CORSOriginsKey, serveCmd.Flags().Lookup("cors-origins"))
}
