package view

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flybeeper/region-heatmap/internal/auth"
	"github.com/flybeeper/region-heatmap/internal/metrics"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

// Config настройки представлений
type Config struct {
	Loader        LoaderConfig
	DetailTimeout time.Duration
	IdleTTL       time.Duration
	MaxViews      int
	// CleanupInterval период проверки простаивающих представлений
	CleanupInterval time.Duration
}

// SourceFactory создает источник данных бэкенда для сессии пользователя
type SourceFactory func(session *auth.Session) Source

// Hub реестр открытых представлений
type Hub struct {
	config  Config
	factory SourceFactory
	views   *store
	logger  *utils.Logger
}

// NewHub создает реестр представлений
func NewHub(config Config, factory SourceFactory, logger *utils.Logger) *Hub {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	return &Hub{
		config:  config,
		factory: factory,
		views:   newStore(config.MaxViews, config.IdleTTL),
		logger:  logger.WithField("component", "view_hub"),
	}
}

// Open открывает представление для токена пользователя и запускает загрузку
func (h *Hub) Open(token string) (*View, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	session := auth.NewSession(token)
	v := newView(uuid.NewString(), session, h.factory(session), h.config, h.logger)

	for _, old := range h.views.add(v) {
		h.logger.WithField("view_id", old.ID).Warn("View evicted, too many open views")
		h.closeView(old, "evicted")
	}
	metrics.ActiveViews.Set(float64(h.views.size()))

	v.Start()

	h.logger.WithFields(map[string]interface{}{
		"view_id":      v.ID,
		"token_prefix": session.TokenPrefix(),
	}).Info("View opened")
	return v, nil
}

// Get возвращает открытое представление и продлевает его жизнь
func (h *Hub) Get(id string) (*View, error) {
	v, ok := h.views.get(id)
	if !ok {
		return nil, ErrViewNotFound
	}
	return v, nil
}

// Close закрывает представление
func (h *Hub) Close(id string) error {
	v, ok := h.views.remove(id)
	if !ok {
		return ErrViewNotFound
	}
	h.closeView(v, "deleted")
	metrics.ActiveViews.Set(float64(h.views.size()))
	return nil
}

// ReloadAll перезагружает все представления с живой сессией (после загрузки новых данных)
func (h *Hub) ReloadAll() int {
	n := 0
	for _, v := range h.views.all() {
		if v.Session().Expired() {
			continue
		}
		v.Reload()
		n++
	}
	h.logger.WithField("views", n).Info("Reloading open views")
	return n
}

// Len количество открытых представлений
func (h *Hub) Len() int {
	return h.views.size()
}

// Cleanup закрывает простаивающие представления
func (h *Hub) Cleanup() int {
	expired := h.views.expired()
	for _, v := range expired {
		h.closeView(v, "idle")
	}
	if len(expired) > 0 {
		metrics.ActiveViews.Set(float64(h.views.size()))
		hits, misses, hitRate := h.views.stats()
		h.logger.WithFields(map[string]interface{}{
			"closed":   len(expired),
			"open":     h.views.size(),
			"hits":     hits,
			"misses":   misses,
			"hit_rate": hitRate,
		}).Debug("Closed idle views")
	}
	return len(expired)
}

// Run периодически закрывает простаивающие представления до отмены контекста
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown закрывает все представления
func (h *Hub) Shutdown() {
	views := h.views.drain()
	for _, v := range views {
		h.closeView(v, "shutdown")
	}
	metrics.ActiveViews.Set(0)
	h.logger.WithField("views", len(views)).Info("View hub stopped")
}

func (h *Hub) closeView(v *View, reason string) {
	if v.Session().Expired() {
		reason = "session_expired"
	}
	v.Close()
	metrics.ViewsClosed.WithLabelValues(reason).Inc()
}
