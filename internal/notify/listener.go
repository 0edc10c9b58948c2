package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flybeeper/region-heatmap/internal/config"
	"github.com/flybeeper/region-heatmap/internal/metrics"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

// Notification уведомление об импорте новой статистики. Все поля опциональны:
// любое сообщение в топике считается сигналом перезагрузки.
type Notification struct {
	Source     string    `json:"source,omitempty"`
	ImportedAt time.Time `json:"importedAt,omitempty"`
	Regions    []int     `json:"regions,omitempty"`
	Records    int64     `json:"records,omitempty"`
}

// Reloader перезагружает открытые представления
type Reloader interface {
	ReloadAll() int
}

// DefaultDebounce окно объединения серии уведомлений в одну перезагрузку
const DefaultDebounce = 2 * time.Second

// Listener слушает MQTT топик уведомлений и перезагружает представления
type Listener struct {
	client   mqtt.Client
	config   *config.MQTTConfig
	logger   *utils.Logger
	reloader Reloader
	debounce time.Duration

	connectTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	mu        sync.RWMutex

	timerMu sync.Mutex
	timer   *time.Timer
	pending int
}

// NewListener создает слушателя уведомлений
func NewListener(cfg *config.MQTTConfig, reloader Reloader, logger *utils.Logger) (*Listener, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if reloader == nil {
		return nil, fmt.Errorf("reloader cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &Listener{
		config:   cfg,
		logger:   logger.WithField("component", "notify"),
		reloader: reloader,
		debounce: DefaultDebounce,

		connectTimeout: ConnectTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}

	opts := clientOptions(cfg)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		l.mu.Lock()
		l.connected = true
		l.mu.Unlock()

		l.logger.WithField("broker", cfg.URL).Info("Connected to MQTT broker")
		metrics.MQTTConnectionStatus.Set(1)

		// Подписка после каждого подключения
		if token := client.Subscribe(cfg.Topic, 1, l.messageHandler()); token.Wait() && token.Error() != nil {
			l.logger.WithFields(map[string]interface{}{
				"topic": cfg.Topic,
				"error": token.Error(),
			}).Error("Failed to subscribe to topic")
		} else {
			l.logger.WithField("topic", cfg.Topic).Info("Subscribed to ingestion notifications")
		}
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		l.mu.Lock()
		l.connected = false
		l.mu.Unlock()

		l.logger.WithField("error", err).Warn("Lost connection to MQTT broker")
		metrics.MQTTConnectionStatus.Set(0)
	})

	l.client = mqtt.NewClient(opts)
	return l, nil
}

// clientOptions общие настройки клиента paho
func clientOptions(cfg *config.MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	return opts
}

// ConnectTimeout время ожидания первого подключения к брокеру
const ConnectTimeout = 10 * time.Second

// Connect подключается к брокеру и ждет подтверждения не дольше ConnectTimeout.
// При ошибке клиент продолжает попытки в фоне и подписывается после подключения.
func (l *Listener) Connect() error {
	l.logger.WithField("broker", l.config.URL).Info("Connecting to MQTT broker")

	ctx, cancel := context.WithTimeout(l.ctx, l.connectTimeout)
	defer cancel()

	if err := waitToken(ctx, l.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Disconnect отключается от брокера и отменяет отложенную перезагрузку
func (l *Listener) Disconnect() {
	l.logger.Info("Disconnecting from MQTT broker")
	l.cancel()

	l.timerMu.Lock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerMu.Unlock()

	// Также прерывает фоновые попытки подключения
	l.client.Disconnect(1000)
	metrics.MQTTConnectionStatus.Set(0)
	l.logger.Info("MQTT listener disconnected")
}

// IsConnected проверяет статус подключения
func (l *Listener) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected && l.client.IsConnected()
}

// Stats возвращает состояние слушателя
func (l *Listener) Stats() map[string]interface{} {
	l.mu.RLock()
	connected := l.connected
	l.mu.RUnlock()

	return map[string]interface{}{
		"connected":  connected,
		"client_id":  l.config.ClientID,
		"broker_url": l.config.URL,
		"topic":      l.config.Topic,
	}
}

func (l *Listener) messageHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		l.handle(msg.Topic(), msg.Payload())
	}
}

// handle разбирает уведомление и планирует перезагрузку
func (l *Listener) handle(topic string, payload []byte) {
	metrics.MQTTMessagesReceived.WithLabelValues(topic).Inc()

	n, err := Parse(payload)
	entry := l.logger.WithFields(map[string]interface{}{
		"topic":        topic,
		"payload_size": len(payload),
	})
	if err != nil {
		// Битое тело не мешает перезагрузке
		entry.WithError(err).Warn("Malformed ingestion notification")
	} else {
		entry.WithFields(map[string]interface{}{
			"source":  n.Source,
			"regions": len(n.Regions),
			"records": n.Records,
		}).Info("Statistics ingested")
	}

	l.schedule()
}

// schedule откладывает перезагрузку на окно debounce; серия уведомлений дает одну перезагрузку
func (l *Listener) schedule() {
	if l.ctx.Err() != nil {
		return
	}

	l.timerMu.Lock()
	defer l.timerMu.Unlock()

	l.pending++
	if l.timer != nil {
		return
	}
	l.timer = time.AfterFunc(l.debounce, l.fire)
}

func (l *Listener) fire() {
	l.timerMu.Lock()
	pending := l.pending
	l.pending = 0
	l.timer = nil
	l.timerMu.Unlock()

	if l.ctx.Err() != nil {
		return
	}

	views := l.reloader.ReloadAll()
	l.logger.WithFields(map[string]interface{}{
		"notifications": pending,
		"views":         views,
	}).Info("Reload triggered by ingestion notification")
}

// Parse разбирает тело уведомления; пустое тело допустимо
func Parse(payload []byte) (*Notification, error) {
	n := &Notification{}
	if len(payload) == 0 {
		return n, nil
	}
	if err := json.Unmarshal(payload, n); err != nil {
		return nil, fmt.Errorf("failed to parse notification: %w", err)
	}
	return n, nil
}

// Publish отправляет уведомление об импорте (для CLI и отладки)
func Publish(ctx context.Context, cfg *config.MQTTConfig, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	opts := clientOptions(cfg)
	opts.SetClientID(cfg.ClientID + "-publisher")
	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(false)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	defer client.Disconnect(250)

	if err := waitToken(ctx, client.Publish(cfg.Topic, 1, false, payload)); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// waitToken ждет завершения операции paho с учетом контекста
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
