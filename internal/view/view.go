package view

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flybeeper/region-heatmap/internal/auth"
	"github.com/flybeeper/region-heatmap/internal/heatmap"
	"github.com/flybeeper/region-heatmap/internal/interaction"
	"github.com/flybeeper/region-heatmap/internal/models"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

var (
	// ErrNotReady набор данных еще не загружен
	ErrNotReady = errors.New("view is not ready")
	// ErrViewNotFound представление не найдено или закрыто
	ErrViewNotFound = errors.New("view not found")
	// ErrEmptyToken представление нельзя открыть без bearer-токена
	ErrEmptyToken = errors.New("empty bearer token")
)

// View сессия просмотра карты: сессия пользователя, конвейер загрузки
// и машина состояний взаимодействия.
type View struct {
	ID        string
	CreatedAt time.Time

	session    *auth.Session
	source     Source
	loader     *Loader
	controller *interaction.Controller
	logger     *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// newView создает представление; загрузка запускается Start
func newView(id string, session *auth.Session, source Source, cfg Config, logger *utils.Logger) *View {
	ctx, cancel := context.WithCancel(context.Background())
	log := logger.WithField("view_id", id)

	v := &View{
		ID:        id,
		CreatedAt: time.Now(),
		session:   session,
		source:    source,
		loader:    NewLoader(source, cfg.Loader, log),
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
	}
	v.controller = interaction.NewController(source, v, cfg.DetailTimeout, log)
	return v
}

// Start запускает загрузку в фоне
func (v *View) Start() {
	v.Reload()
}

// Reload запускает повторную загрузку в фоне. Прежний набор остается видимым
// до атомарной замены.
func (v *View) Reload() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		_ = v.loader.Load(v.ctx)
	}()
}

// Load выполняет загрузку синхронно
func (v *View) Load(ctx context.Context) error {
	return v.loader.Load(ctx)
}

// Close останавливает загрузку и машину состояний
func (v *View) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()

	v.cancel()
	v.controller.Close()
	v.wg.Wait()
}

// Session возвращает сессию пользователя
func (v *View) Session() *auth.Session {
	return v.session
}

// Status возвращает состояние загрузки; истекшая сессия имеет приоритет
func (v *View) Status() LoadStatus {
	s := v.loader.Status()
	if v.session.Expired() {
		s.Status = StatusExpired
		if err := v.session.Err(); err != nil && s.Error == "" {
			s.Error = err.Error()
		}
	}
	return s
}

// Dataset возвращает текущий набор данных или ErrNotReady
func (v *View) Dataset() (*models.Dataset, error) {
	ds := v.loader.Dataset()
	if ds == nil {
		return nil, ErrNotReady
	}
	return ds, nil
}

// Dispatch передает событие интерфейса в машину состояний
func (v *View) Dispatch(ctx context.Context, e interaction.Event) (interaction.State, error) {
	if v.session.Expired() {
		return v.controller.State(), auth.ErrSessionExpired
	}
	if v.loader.Dataset() == nil {
		return v.controller.State(), ErrNotReady
	}
	return v.controller.Dispatch(ctx, e)
}

// State возвращает текущее состояние взаимодействия
func (v *View) State() interaction.State {
	return v.controller.State()
}

// Subscribe подписывает на изменения состояния взаимодействия
func (v *View) Subscribe() (<-chan interaction.State, func()) {
	return v.controller.Subscribe()
}

// StateView проекция состояния для интерфейса
type StateView struct {
	Phase   string            `json:"phase"`
	State   interaction.State `json:"state"`
	Tooltip *heatmap.Tooltip  `json:"tooltip,omitempty"`
	Detail  *heatmap.Detail   `json:"detail,omitempty"`
	Load    LoadStatus        `json:"load"`
}

// Project строит проекцию состояния: подсказку для наведенного региона
// и карточку выбранного
func (v *View) Project(s interaction.State) StateView {
	out := StateView{
		Phase: s.Phase(),
		State: s,
		Load:  v.Status(),
	}

	ds := v.loader.Dataset()
	if ds == nil {
		return out
	}

	if s.Hover != nil {
		if r, ok := ds.Region(s.Hover.RegionID); ok {
			tip := heatmap.BuildTooltip(r)
			out.Tooltip = &tip
		}
	}
	if s.Selection != nil && s.Selection.Status == interaction.StatusLoaded {
		if r, ok := ds.Region(s.Selection.RegionID); ok {
			detail := heatmap.BuildDetail(r.RegionGeometry, s.Selection.Stats)
			out.Detail = &detail
		}
	}
	return out
}

// Sidebar строит список регионов с отметкой выбранного
func (v *View) Sidebar(filter string) (heatmap.Sidebar, error) {
	ds, err := v.Dataset()
	if err != nil {
		return heatmap.Sidebar{}, err
	}

	q := heatmap.SidebarQuery{Filter: filter}
	if sel := v.controller.State().Selection; sel != nil {
		id := sel.RegionID
		q.SelectedID = &id
	}
	return heatmap.ProjectSidebar(ds, q), nil
}

// Summary загружает национальные итоги
func (v *View) Summary(ctx context.Context) (*models.Summary, error) {
	return v.source.GetSummary(ctx)
}

// HasRegion реализует interaction.RegionResolver
func (v *View) HasRegion(id int) bool {
	_, ok := v.loader.Dataset().Region(id)
	return ok
}

// RegionAt реализует interaction.RegionResolver
func (v *View) RegionAt(lon, lat float64) (int, bool) {
	snap := v.loader.Snapshot()
	if snap == nil {
		return 0, false
	}
	return snap.Index.Lookup(lon, lat)
}

// ColorScale шкала цвета представления
func (v *View) ColorScale() heatmap.ColorScale {
	return v.loader.config.Scale
}
