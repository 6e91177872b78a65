package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/collabroom/backend/internal/auth"
	"github.com/collabroom/backend/internal/config"
	"github.com/collabroom/backend/internal/database"
	"github.com/collabroom/backend/internal/feed"
	"github.com/collabroom/backend/internal/files"
	"github.com/collabroom/backend/internal/ident"
	"github.com/collabroom/backend/internal/logging"
	"github.com/collabroom/backend/internal/messages"
	"github.com/collabroom/backend/internal/realtime"
	"github.com/collabroom/backend/internal/rooms"
	"github.com/collabroom/backend/internal/server"
	"github.com/collabroom/backend/internal/tasks"
	"github.com/collabroom/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "collabroom-api",
		Short: "CollabRoom task board and chat backend service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("storage-endpoint", defaults.GetString("storage.endpoint"), "Object storage endpoint")
	cmd.PersistentFlags().String("storage-bucket", defaults.GetString("storage.bucket"), "Object storage bucket for uploads")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "storage.endpoint", "storage-endpoint")
	bindFlag(cmd, "storage.bucket", "storage-bucket")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	blobStore, err := files.NewMinioStore(ctx, files.MinioConfig{
		Endpoint:  appConfig.StorageEndpoint,
		AccessKey: appConfig.StorageAccessKey,
		SecretKey: appConfig.StorageSecretKey,
		Bucket:    appConfig.StorageBucket,
		UseSSL:    appConfig.StorageUseSSL,
		PublicURL: appConfig.StoragePublicURL,
	})
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningKey),
		TokenTTL:      appConfig.TokenTTL,
	})

	idProvider := ident.NewUUIDProvider()
	broker := realtime.NewBroker(logger)

	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	roomService, err := rooms.NewService(rooms.ServiceConfig{
		Database:    db,
		Identity:    userService,
		Broadcaster: broker,
		IDProvider:  idProvider,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	taskService, err := tasks.NewService(tasks.ServiceConfig{
		Database:    db,
		Broadcaster: broker,
		IDProvider:  idProvider,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	messageService, err := messages.NewService(messages.ServiceConfig{
		Database:    db,
		Broadcaster: broker,
		IDProvider:  idProvider,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	fileService, err := files.NewService(files.ServiceConfig{
		Database:    db,
		Blobs:       blobStore,
		Broadcaster: broker,
		IDProvider:  idProvider,
		Logger:      logger,
		MaxBytes:    appConfig.UploadMaxBytes,
	})
	if err != nil {
		return err
	}

	feedService, err := feed.NewService(messageService, fileService)
	if err != nil {
		return err
	}

	hub, err := realtime.NewHub(realtime.HubConfig{
		Broker: broker,
		Rooms:  roomService,
		Tasks:  taskService,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Rooms:    roomService,
		Tasks:    taskService,
		Messages: messageService,
		Files:    fileService,
		Feed:     feedService,
		Tokens:   tokenManager,
		Hub:      hub,
		Logger:   logger,
	})
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
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
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
