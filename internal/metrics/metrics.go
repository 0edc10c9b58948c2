package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heatmap_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmap_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// WebSocket метрики
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heatmap_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmap_websocket_messages_out_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)

	WebSocketErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heatmap_websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
	)

	// MQTT метрики (уведомления о загрузке новой статистики)
	MQTTMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmap_mqtt_messages_received_total",
			Help: "Total number of MQTT notifications received",
		},
		[]string{"topic"},
	)

	MQTTConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heatmap_mqtt_connection_status",
			Help: "MQTT connection status (1 = connected, 0 = disconnected)",
		},
	)

	// Сессии просмотра карты
	ActiveViews = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heatmap_views_active",
			Help: "Number of open map view sessions",
		},
	)

	ViewsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmap_views_closed_total",
			Help: "Total number of closed map views by reason",
		},
		[]string{"reason"}, // idle, deleted, evicted, shutdown, session_expired
	)

	// Общие метрики приложения
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heatmap_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetAppInfo устанавливает информацию о версии приложения
func SetAppInfo(version, commit, buildTime string) {
	AppInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
