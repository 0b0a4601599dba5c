package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aurelia-health/consulta/backend/internal/agenda"
	"github.com/aurelia-health/consulta/backend/internal/auth"
	"github.com/aurelia-health/consulta/backend/internal/autosave"
	"github.com/aurelia-health/consulta/backend/internal/clinical"
	"github.com/aurelia-health/consulta/backend/internal/clinicians"
	"github.com/aurelia-health/consulta/backend/internal/config"
	"github.com/aurelia-health/consulta/backend/internal/database"
	"github.com/aurelia-health/consulta/backend/internal/expedix"
	"github.com/aurelia-health/consulta/backend/internal/logging"
	"github.com/aurelia-health/consulta/backend/internal/sandbox"
	"github.com/aurelia-health/consulta/backend/internal/server"
	"github.com/aurelia-health/consulta/backend/internal/store"
	"github.com/aurelia-health/consulta/backend/internal/workflow"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "consulta-api",
		Short: "Appointment and consultation lifecycle coordinator",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("mode", defaults.GetString("mode"), "Service mode (sandbox or proxy)")
	cmd.PersistentFlags().String("agenda-base-url", defaults.GetString("agenda.base_url"), "Scheduling backend base URL (proxy mode)")
	cmd.PersistentFlags().String("expedix-base-url", defaults.GetString("expedix.base_url"), "Clinical record backend base URL (proxy mode)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path (sandbox mode)")
	cmd.PersistentFlags().Int("autosave-debounce-seconds", defaults.GetInt("autosave.debounce_seconds"), "Autosave debounce in seconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "mode", "mode")
	bindFlag(cmd, "agenda.base_url", "agenda-base-url")
	bindFlag(cmd, "expedix.base_url", "expedix-base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "autosave.debounce_seconds", "autosave-debounce-seconds")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// Local .env files are a convenience for sandbox runs; absence is fine.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	// Sandbox runs log to a human-readable console; proxy deployments emit
	// structured JSON.
	newLogger := logging.NewLogger
	if appConfig.Mode == config.ModeSandbox {
		newLogger = logging.NewDevelopmentLogger
	}
	logger, err := newLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()

	deps := server.Dependencies{
		SessionValidator: sessionValidator,
		Realtime:         dispatcher,
		Logger:           logger,
	}

	var appointments store.AppointmentStore
	var consultations store.ConsultationStore

	switch appConfig.Mode {
	case config.ModeSandbox:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		appointmentStore, err := sandbox.NewAppointmentStore(sandbox.StoreConfig{
			Database:   db,
			Clock:      time.Now,
			IDProvider: clinical.NewUUIDProvider(),
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		consultationStore, err := sandbox.NewConsultationStore(sandbox.StoreConfig{
			Database:   db,
			Clock:      time.Now,
			IDProvider: clinical.NewUUIDProvider(),
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		appointments = appointmentStore
		consultations = consultationStore

		if appConfig.SeedDemoData {
			if err := sandbox.Seed(ctx, db, appointmentStore, logger); err != nil {
				return err
			}
		}

		clinicianService, err := clinicians.NewService(clinicians.ServiceConfig{Database: db})
		if err != nil {
			return err
		}
		deps.Clinicians = clinicianService

		// Sandbox sessions are minted locally through /auth/dev-token.
		deps.TokenIssuer = auth.NewTokenIssuer(auth.TokenIssuerConfig{
			SigningSecret: []byte(appConfig.SessionSigningKey),
			Issuer:        appConfig.SessionIssuer,
		})

	case config.ModeProxy:
		upstreamClient := &http.Client{Timeout: appConfig.UpstreamTimeout}
		appointments, err = agenda.NewClient(agenda.Config{
			BaseURL:    appConfig.AgendaBaseURL,
			HTTPClient: upstreamClient,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		consultations, err = expedix.NewClient(expedix.Config{
			BaseURL:    appConfig.ExpedixBaseURL,
			HTTPClient: upstreamClient,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
	}

	workflowService, err := workflow.NewService(workflow.ServiceConfig{
		Appointments:  appointments,
		Consultations: consultations,
		Clock:         time.Now,
		Logger:        logger,
		Events: func(event workflow.Event) {
			dispatcher.Publish(server.FromWorkflowEvent(event))
		},
	})
	if err != nil {
		return err
	}
	deps.Workflow = workflowService

	autosaveManager, err := autosave.NewManager(autosave.ManagerConfig{
		Consultations: consultations,
		Debounce:      appConfig.AutosaveDebounce,
		Logger:        logger,
		Events: func(event autosave.Event) {
			dispatcher.Publish(server.FromAutosaveEvent(event))
		},
	})
	if err != nil {
		return err
	}
	deps.Autosave = autosaveManager
	defer autosaveManager.CloseAll()

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("mode", appConfig.Mode))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
