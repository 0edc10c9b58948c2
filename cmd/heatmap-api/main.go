package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flybeeper/region-heatmap/internal/auth"
	"github.com/flybeeper/region-heatmap/internal/client"
	"github.com/flybeeper/region-heatmap/internal/config"
	"github.com/flybeeper/region-heatmap/internal/handler"
	"github.com/flybeeper/region-heatmap/internal/metrics"
	"github.com/flybeeper/region-heatmap/internal/notify"
	"github.com/flybeeper/region-heatmap/internal/view"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

var (
	// Version будет установлен при сборке через ldflags
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализируем логирование
	logger := utils.NewLogger(config.LogLevel(), config.LogFormat())
	logger.WithFields(map[string]interface{}{
		"version":     Version,
		"environment": cfg.Environment,
		"backend":     cfg.Backend.BaseURL,
	}).Info("Starting region heatmap API")
	metrics.SetAppInfo(Version, Commit, BuildTime)

	// Создаем контекст приложения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Каждое представление получает свой клиент бэкенда с токеном пользователя
	backend := client.Config{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout,
		UserAgent:      cfg.Backend.UserAgent,
		RequestRate:    cfg.Backend.RequestRate,
	}
	hub := view.NewHub(view.NewConfig(cfg), func(session *auth.Session) view.Source {
		return client.New(backend, session, logger)
	}, logger)
	go hub.Run(ctx)

	// Уведомления об импорте статистики (опционально)
	var listener *notify.Listener
	if cfg.MQTT.Enabled() {
		listener, err = notify.NewListener(&cfg.MQTT, hub, logger)
		if err != nil {
			logger.WithField("error", err).Fatal("Failed to initialize MQTT listener")
		}
		if err := listener.Connect(); err != nil {
			// Карта работает и без уведомлений, перезагрузка доступна через API
			logger.WithField("error", err).Warn("Failed to connect to MQTT broker")
		} else {
			logger.WithField("topic", cfg.MQTT.Topic).Info("Listening for import notifications")
		}
	}

	// Создаем HTTP сервер
	server := handler.NewServer(cfg, hub, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err).Fatal("Failed to start HTTP server")
		}
	}()

	// Ждем сигнала остановки
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.WithField("signal", sig).Info("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if listener != nil {
		listener.Disconnect()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("HTTP server shutdown error")
	}

	cancel()
	hub.Shutdown()

	logger.Info("Server stopped gracefully")
}
