package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flybeeper/region-heatmap/internal/client"
	"github.com/flybeeper/region-heatmap/internal/metrics"
	"github.com/flybeeper/region-heatmap/internal/models"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

var (
	// ErrClosed контроллер остановлен
	ErrClosed = errors.New("interaction controller closed")
	// ErrUnknownRegion регион отсутствует в текущем наборе
	ErrUnknownRegion = errors.New("unknown region")
	// ErrInternalEvent событие результата запроса нельзя отправить извне
	ErrInternalEvent = errors.New("detail result events are internal")
)

// DetailSource источник детальной статистики региона
type DetailSource interface {
	RegionStats(ctx context.Context, regionID int) (*models.RegionStatistics, error)
}

// RegionResolver проверяет регионы и находит регион по координате.
// Реализация читает текущий неизменяемый набор данных.
type RegionResolver interface {
	HasRegion(id int) bool
	RegionAt(lon, lat float64) (int, bool)
}

// ControllerStats счетчики контроллера
type ControllerStats struct {
	Events       uint64 `json:"events"`
	DetailFetch  uint64 `json:"detailFetches"`
	StaleDropped uint64 `json:"staleDropped"`
}

// request событие в очереди цикла; reply == nil для внутренних событий
type request struct {
	event Event
	reply chan reply
}

type reply struct {
	state State
	err   error
}

// Controller владеет состоянием взаимодействия. Все переходы выполняются
// в одной горутине цикла событий; детальные запросы выполняются параллельно
// и возвращают результат в цикл как события DetailLoaded/DetailFailed.
type Controller struct {
	source   DetailSource
	resolver RegionResolver
	timeout  time.Duration
	logger   *utils.Logger

	requests chan request
	closing  chan struct{}
	stopped  chan struct{}
	once     sync.Once

	// ctx отменяется при Close; запросы в полете завершаются логически
	ctx    context.Context
	cancel context.CancelFunc

	snapshot atomic.Pointer[State]

	subMu       sync.Mutex
	subscribers map[int]chan State
	nextSubID   int

	events       atomic.Uint64
	detailFetch  atomic.Uint64
	staleDropped atomic.Uint64

	// state принадлежит горутине цикла
	state State
}

// NewController создает контроллер и запускает цикл событий
func NewController(source DetailSource, resolver RegionResolver, detailTimeout time.Duration, logger *utils.Logger) *Controller {
	if detailTimeout <= 0 {
		detailTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		source:      source,
		resolver:    resolver,
		timeout:     detailTimeout,
		logger:      logger.WithField("component", "interaction"),
		requests:    make(chan request, 64),
		closing:     make(chan struct{}),
		stopped:     make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[int]chan State),
		state:       Initial(),
	}
	initial := c.state
	c.snapshot.Store(&initial)

	go c.loop()
	return c
}

// Dispatch передает пользовательское событие в цикл и возвращает состояние после перехода
func (c *Controller) Dispatch(ctx context.Context, e Event) (State, error) {
	switch e.(type) {
	case DetailLoaded, DetailFailed:
		return c.State(), ErrInternalEvent
	case nil:
		return c.State(), fmt.Errorf("nil event")
	}

	req := request{event: e, reply: make(chan reply, 1)}
	select {
	case c.requests <- req:
	case <-c.closing:
		return c.State(), ErrClosed
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.state, r.err
	case <-c.stopped:
		return c.State(), ErrClosed
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

// State возвращает последний снимок состояния
func (c *Controller) State() State {
	return *c.snapshot.Load()
}

// Stats возвращает счетчики контроллера
func (c *Controller) Stats() ControllerStats {
	return ControllerStats{
		Events:       c.events.Load(),
		DetailFetch:  c.detailFetch.Load(),
		StaleDropped: c.staleDropped.Load(),
	}
}

// Subscribe подписывает на снимки состояния. Медленный подписчик получает
// только последний снимок. Возвращает функцию отписки.
// После Close канал отдает последний снимок и закрывается.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	// Снимок под subMu: publish сохраняет снимок до захвата subMu,
	// поэтому более новое состояние придет следом
	c.subMu.Lock()
	ch <- c.State()
	select {
	case <-c.closing:
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, id)
			c.subMu.Unlock()
		})
	}
}

// Close останавливает цикл. Результаты запросов в полете отбрасываются.
func (c *Controller) Close() {
	c.once.Do(func() {
		close(c.closing)
		c.cancel()
		<-c.stopped

		c.subMu.Lock()
		for id, ch := range c.subscribers {
			close(ch)
			delete(c.subscribers, id)
		}
		c.subMu.Unlock()
	})
}

// Done закрывается после остановки цикла
func (c *Controller) Done() <-chan struct{} {
	return c.stopped
}

// loop цикл событий: единственное место изменения состояния
func (c *Controller) loop() {
	defer close(c.stopped)

	for {
		select {
		case req := <-c.requests:
			state, err := c.handle(req.event)
			if req.reply != nil {
				req.reply <- reply{state: state, err: err}
			}
		case <-c.closing:
			return
		}
	}
}

// handle применяет событие к состоянию и исполняет команды
func (c *Controller) handle(e Event) (State, error) {
	c.events.Add(1)

	e, err := c.resolve(e)
	if err != nil {
		return c.state, err
	}

	if IsStale(c.state, e) {
		c.staleDropped.Add(1)
		metrics.DetailFetches.WithLabelValues("stale").Inc()
		c.logger.WithFields(map[string]interface{}{
			"event":     EventName(e),
			"region_id": detailRegion(e),
		}).Debug("Dropped stale detail response")
		return c.state, nil
	}

	switch e.(type) {
	case DetailLoaded:
		metrics.DetailFetches.WithLabelValues("loaded").Inc()
	case DetailFailed:
		metrics.DetailFetches.WithLabelValues("error").Inc()
	}

	next, commands := Transition(c.state, e)
	c.state = next
	c.publish(next)

	for _, cmd := range commands {
		c.execute(cmd)
	}
	return next, nil
}

// resolve проверяет регионы и превращает PointerAt в PointerEnter/PointerLeave
func (c *Controller) resolve(e Event) (Event, error) {
	if c.resolver == nil {
		return e, nil
	}

	switch ev := e.(type) {
	case PointerAt:
		id, ok := c.resolver.RegionAt(ev.Position.Lon, ev.Position.Lat)
		if !ok {
			return PointerLeave{}, nil
		}
		pos := ev.Position
		return PointerEnter{RegionID: id, Position: &pos}, nil
	case PointerEnter:
		if !c.resolver.HasRegion(ev.RegionID) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownRegion, ev.RegionID)
		}
	case Click:
		if !c.resolver.HasRegion(ev.RegionID) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownRegion, ev.RegionID)
		}
	}
	return e, nil
}

// execute запускает побочные эффекты вне цикла
func (c *Controller) execute(cmd Command) {
	switch cmd := cmd.(type) {
	case FetchDetail:
		c.detailFetch.Add(1)
		go c.fetchDetail(cmd)
	}
}

// fetchDetail выполняет детальный запрос и возвращает результат в цикл.
// Запрос не отменяется при смене выбора: устаревший ответ отбрасывает цикл.
func (c *Controller) fetchDetail(cmd FetchDetail) {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	stats, err := c.source.RegionStats(ctx, cmd.RegionID)
	if err == nil && stats == nil {
		err = fmt.Errorf("region %d: empty statistics", cmd.RegionID)
	}

	var e Event
	if err != nil {
		entry := c.logger.WithField("region_id", cmd.RegionID).WithError(err)
		if client.IsUnauthorized(err) {
			entry.Warn("Detail request rejected, session expired")
		} else {
			entry.Debug("Detail request failed")
		}
		e = DetailFailed{RegionID: cmd.RegionID, Seq: cmd.Seq, Err: err}
	} else {
		e = DetailLoaded{RegionID: cmd.RegionID, Seq: cmd.Seq, Stats: stats}
	}

	select {
	case c.requests <- request{event: e}:
	case <-c.closing:
	}
}

// publish рассылает снимок подписчикам, заменяя непрочитанный
func (c *Controller) publish(s State) {
	snap := s
	c.snapshot.Store(&snap)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func detailRegion(e Event) int {
	switch ev := e.(type) {
	case DetailLoaded:
		return ev.RegionID
	case DetailFailed:
		return ev.RegionID
	}
	return 0
}
