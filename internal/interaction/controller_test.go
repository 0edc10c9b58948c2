package interaction

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/region-heatmap/internal/client"
	"github.com/flybeeper/region-heatmap/internal/models"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

// gatedSource отвечает на запрос региона только после release(id)
type gatedSource struct {
	mu    sync.Mutex
	gates map[int]chan struct{}
	errs  map[int]error
}

func newGatedSource() *gatedSource {
	return &gatedSource{gates: make(map[int]chan struct{}), errs: make(map[int]error)}
}

func (s *gatedSource) gate(id int) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[id]
	if !ok {
		g = make(chan struct{})
		s.gates[id] = g
	}
	return g
}

func (s *gatedSource) release(id int) {
	close(s.gate(id))
}

func (s *gatedSource) RegionStats(ctx context.Context, id int) (*models.RegionStatistics, error) {
	select {
	case <-s.gate(id):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	err := s.errs[id]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return statsFor(id, int64(id*100)), nil
}

// staticResolver регионы 1..n, регион по долготе: floor(lon)
type staticResolver struct {
	n int
}

func (r staticResolver) HasRegion(id int) bool {
	return id >= 1 && id <= r.n
}

func (r staticResolver) RegionAt(lon, lat float64) (int, bool) {
	id := int(lon)
	return id, r.HasRegion(id)
}

func newTestController(t *testing.T, source DetailSource, timeout time.Duration) *Controller {
	t.Helper()
	c := NewController(source, staticResolver{n: 10}, timeout, utils.NewNopLogger())
	t.Cleanup(c.Close)
	return c
}

func TestController_LateResponseDiscarded(t *testing.T) {
	source := newGatedSource()
	c := newTestController(t, source, time.Second)
	ctx := context.Background()

	s, err := c.Dispatch(ctx, Click{RegionID: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusLoading, s.Selection.Status)

	s, err = c.Dispatch(ctx, Click{RegionID: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Selection.RegionID)

	// Ответ B приходит первым
	source.release(2)
	require.Eventually(t, func() bool {
		sel := c.State().Selection
		return sel != nil && sel.Status == StatusLoaded
	}, time.Second, 5*time.Millisecond)

	// Поздний ответ A отбрасывается
	source.release(1)
	require.Eventually(t, func() bool {
		return c.Stats().StaleDropped == 1
	}, time.Second, 5*time.Millisecond)

	final := c.State()
	assert.Equal(t, 2, final.Selection.RegionID)
	assert.Equal(t, StatusLoaded, final.Selection.Status)
	assert.Equal(t, int64(200), final.Selection.Stats.Flights())
	assert.Equal(t, uint64(2), c.Stats().DetailFetch)
}

func TestController_LateResponseWhileNewerPending(t *testing.T) {
	source := newGatedSource()
	c := newTestController(t, source, time.Second)
	ctx := context.Background()

	_, err := c.Dispatch(ctx, Click{RegionID: 1})
	require.NoError(t, err)
	_, err = c.Dispatch(ctx, Click{RegionID: 2})
	require.NoError(t, err)

	source.release(1)
	require.Eventually(t, func() bool {
		return c.Stats().StaleDropped == 1
	}, time.Second, 5*time.Millisecond)

	s := c.State()
	assert.Equal(t, 2, s.Selection.RegionID)
	assert.Equal(t, StatusLoading, s.Selection.Status)
}

func TestController_DetailTimeoutBecomesError(t *testing.T) {
	source := newGatedSource()
	c := newTestController(t, source, 30*time.Millisecond)

	_, err := c.Dispatch(context.Background(), Click{RegionID: 3})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sel := c.State().Selection
		return sel != nil && sel.Status == StatusError
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, c.State().Selection.Error, "deadline")
}

func TestController_UnauthorizedDetail(t *testing.T) {
	source := newGatedSource()
	source.errs[4] = fmt.Errorf("/regions/4/stats: %w (status 401)", client.ErrUnauthorized)
	c := newTestController(t, source, time.Second)

	_, err := c.Dispatch(context.Background(), Click{RegionID: 4})
	require.NoError(t, err)
	source.release(4)

	require.Eventually(t, func() bool {
		sel := c.State().Selection
		return sel != nil && sel.Status == StatusError
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, c.State().Selection.Error, "unauthorized")
}

func TestController_PointerAtResolvesRegion(t *testing.T) {
	c := newTestController(t, newGatedSource(), time.Second)
	ctx := context.Background()

	s, err := c.Dispatch(ctx, PointerAt{Position: Position{Lon: 7.5, Lat: 55}})
	require.NoError(t, err)
	require.NotNil(t, s.Hover)
	assert.Equal(t, 7, s.Hover.RegionID)
	assert.Equal(t, 7.5, s.Hover.Position.Lon)

	// Точка вне регионов эквивалентна уходу указателя
	s, err = c.Dispatch(ctx, PointerAt{Position: Position{Lon: 50, Lat: 55}})
	require.NoError(t, err)
	assert.Nil(t, s.Hover)
}

func TestController_RejectsInvalidEvents(t *testing.T) {
	c := newTestController(t, newGatedSource(), time.Second)
	ctx := context.Background()

	_, err := c.Dispatch(ctx, Click{RegionID: 99})
	assert.ErrorIs(t, err, ErrUnknownRegion)

	_, err = c.Dispatch(ctx, PointerEnter{RegionID: 0})
	assert.ErrorIs(t, err, ErrUnknownRegion)

	_, err = c.Dispatch(ctx, DetailLoaded{RegionID: 1, Seq: 1})
	assert.ErrorIs(t, err, ErrInternalEvent)

	assert.Equal(t, "idle", c.State().Phase())
	assert.Equal(t, uint64(0), c.Stats().DetailFetch)
}

func TestController_Subscribe(t *testing.T) {
	c := newTestController(t, newGatedSource(), time.Second)

	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	initial := <-updates
	assert.Equal(t, "idle", initial.Phase())

	_, err := c.Dispatch(context.Background(), PointerEnter{RegionID: 2})
	require.NoError(t, err)

	select {
	case s := <-updates:
		assert.Equal(t, 2, s.Hover.RegionID)
	case <-time.After(time.Second):
		t.Fatal("снимок состояния не получен")
	}
}

func TestController_Close(t *testing.T) {
	source := newGatedSource()
	c := NewController(source, nil, time.Second, utils.NewNopLogger())

	updates, _ := c.Subscribe()
	<-updates

	_, err := c.Dispatch(context.Background(), Click{RegionID: 1})
	require.NoError(t, err)

	c.Close()
	c.Close()

	_, err = c.Dispatch(context.Background(), Click{RegionID: 2})
	assert.ErrorIs(t, err, ErrClosed)

	// Канал подписчика закрыт: цикл завершается после последнего снимка
	for range updates {
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("цикл должен быть остановлен")
	}
}

func TestController_SubscribeAfterClose(t *testing.T) {
	c := NewController(newGatedSource(), nil, time.Second, utils.NewNopLogger())
	c.Close()

	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	last, ok := <-updates
	require.True(t, ok)
	assert.Equal(t, "idle", last.Phase())

	select {
	case _, ok := <-updates:
		assert.False(t, ok, "после закрытия снимков больше нет")
	case <-time.After(time.Second):
		t.Fatal("канал подписчика не закрыт")
	}
}

func TestController_SubscribeSeesLatestState(t *testing.T) {
	c := newTestController(t, newGatedSource(), time.Second)

	for i := 1; i <= 50; i++ {
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = c.Dispatch(context.Background(), PointerEnter{RegionID: i%10 + 1})
		}()

		updates, unsubscribe := c.Subscribe()
		<-done

		// Последний полученный снимок совпадает с текущим состоянием
		var got State
		require.Eventually(t, func() bool {
			for {
				select {
				case s := <-updates:
					got = s
				default:
					return got.Hover != nil && got.Hover.RegionID == c.State().Hover.RegionID
				}
			}
		}, time.Second, time.Millisecond, fmt.Sprintf("iteration %d", i))
		unsubscribe()
	}
}
