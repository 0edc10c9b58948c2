package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/flybeeper/region-heatmap/internal/auth"
	"github.com/flybeeper/region-heatmap/internal/metrics"
	"github.com/flybeeper/region-heatmap/internal/models"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

const (
	regionsPath = "/geo/regions"
	summaryPath = "/analytics/summary"

	maxErrorBody = 512
)

// Config параметры клиента бэкенда аналитики
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	UserAgent      string
	// RequestRate ограничение запросов в секунду; 0 - без ограничения
	RequestRate float64
}

// Client клиент бэкенда аналитики полетов.
// Каждый запрос несет bearer-токен сессии; 401/403 переводят сессию в истекшую.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	session    *auth.Session
	limiter    *rate.Limiter
	logger     *utils.Logger
}

// New создает клиент для указанной сессии
func New(cfg Config, session *auth.Session, logger *utils.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "Region-Heatmap/1.0"
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		session: session,
		logger:  logger.WithField("component", "api_client"),
	}
	if cfg.RequestRate > 0 {
		burst := int(cfg.RequestRate)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestRate), burst)
	}
	return c
}

// Session возвращает сессию клиента
func (c *Client) Session() *auth.Session {
	return c.session
}

// GetRegions загружает коллекцию границ регионов
func (c *Client) GetRegions(ctx context.Context) ([]models.RegionGeometry, error) {
	body, err := c.get(ctx, regionsPath, "regions")
	if err != nil {
		return nil, err
	}

	geoms, err := models.ParseRegionCollection(body)
	if err != nil {
		return nil, &ShapeError{Endpoint: regionsPath, Err: err}
	}
	return geoms, nil
}

// RegionStats загружает статистику одного региона.
// Используется и пакетной загрузкой, и детальным запросом при выборе региона.
func (c *Client) RegionStats(ctx context.Context, regionID int) (*models.RegionStatistics, error) {
	path := fmt.Sprintf("/regions/%d/stats", regionID)
	body, err := c.get(ctx, path, "region_stats")
	if err != nil {
		return nil, err
	}

	var stats models.RegionStatistics
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, &ShapeError{Endpoint: path, Err: err}
	}
	if err := stats.Validate(regionID); err != nil {
		return nil, &ShapeError{Endpoint: path, Err: err}
	}
	if stats.RegionID == 0 {
		stats.RegionID = regionID
	}
	return &stats, nil
}

// GetSummary загружает национальные итоги
func (c *Client) GetSummary(ctx context.Context) (*models.Summary, error) {
	body, err := c.get(ctx, summaryPath, "summary")
	if err != nil {
		return nil, err
	}

	var summary models.Summary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, &ShapeError{Endpoint: summaryPath, Err: err}
	}
	return &summary, nil
}

// get выполняет GET-запрос с bearer-токеном и разбирает код ответа
func (c *Client) get(ctx context.Context, path, endpoint string) (body []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.BackendRequestDuration.WithLabelValues(endpoint, Classify(err)).Observe(time.Since(start).Seconds())
	}()

	if c.session.Expired() {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrUnauthorized, c.session.Err())
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limiter: %w", path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.session.Token())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.WithFields(map[string]interface{}{
			"path":         path,
			"status_code":  resp.StatusCode,
			"token_prefix": c.session.TokenPrefix(),
		}).Warn("Backend rejected token, session expired")
		metrics.AuthFailures.Inc()

		authErr := fmt.Errorf("%s: %w (status %d)", path, ErrUnauthorized, resp.StatusCode)
		c.session.Expire(authErr)
		return nil, authErr

	default:
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		c.logger.WithFields(map[string]interface{}{
			"path":        path,
			"status_code": resp.StatusCode,
			"response":    snippet,
		}).Debug("Unexpected response from analytics backend")
		return nil, &StatusError{Endpoint: path, StatusCode: resp.StatusCode, Body: snippet}
	}
}
