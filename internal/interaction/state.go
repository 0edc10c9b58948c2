package interaction

import (
	"github.com/flybeeper/region-heatmap/internal/models"
)

// DetailStatus статус детальной статистики выбранного региона
type DetailStatus string

const (
	StatusLoading DetailStatus = "loading"
	StatusLoaded  DetailStatus = "loaded"
	StatusError   DetailStatus = "error"
)

// Position положение указателя (координаты карты)
type Position struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Hover регион под указателем
type Hover struct {
	RegionID int       `json:"regionId"`
	Position *Position `json:"position,omitempty"`
}

// Selection выбранный регион. Seq отличает повторный выбор того же региона.
type Selection struct {
	RegionID int                      `json:"regionId"`
	Seq      uint64                   `json:"seq"`
	Status   DetailStatus             `json:"status"`
	Stats    *models.RegionStatistics `json:"stats,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// State состояние взаимодействия. Наведение и выбор независимы.
// Значения не изменяются на месте: каждый переход создает новое состояние.
type State struct {
	Hover     *Hover     `json:"hover,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
	// LastSeq последний выданный номер выбора
	LastSeq uint64 `json:"lastSeq"`
}

// Phase краткое имя состояния: idle, hovering, selected, hovering+selected
func (s State) Phase() string {
	switch {
	case s.Hover != nil && s.Selection != nil:
		return "hovering+selected"
	case s.Hover != nil:
		return "hovering"
	case s.Selection != nil:
		return "selected"
	default:
		return "idle"
	}
}

// Event событие машины состояний
type Event interface {
	eventName() string
}

// PointerEnter указатель над регионом
type PointerEnter struct {
	RegionID int
	Position *Position
}

// PointerAt указатель в точке карты; регион определяется пространственным индексом
type PointerAt struct {
	Position Position
}

// PointerLeave указатель покинул регионы
type PointerLeave struct{}

// Click выбор региона
type Click struct {
	RegionID int
}

// CloseSelection закрытие карточки региона
type CloseSelection struct{}

// DetailLoaded детальная статистика получена
type DetailLoaded struct {
	RegionID int
	Seq      uint64
	Stats    *models.RegionStatistics
}

// DetailFailed детальный запрос завершился ошибкой
type DetailFailed struct {
	RegionID int
	Seq      uint64
	Err      error
}

func (PointerEnter) eventName() string { return "pointer_enter" }
func (PointerAt) eventName() string { return "pointer_at" }
func (PointerLeave) eventName() string { return "pointer_leave" }
func (Click) eventName() string { return "click" }
func (CloseSelection) eventName() string { return "close_selection" }
func (DetailLoaded) eventName() string { return "detail_loaded" }
func (DetailFailed) eventName() string { return "detail_failed" }

// EventName имя события для логов
func EventName(e Event) string {
	if e == nil {
		return "nil"
	}
	return e.eventName()
}

// Command побочный эффект, который должен выполнить владелец машины
type Command interface {
	commandName() string
}

// FetchDetail запросить детальную статистику региона
type FetchDetail struct {
	RegionID int
	Seq      uint64
}

func (FetchDetail) commandName() string { return "fetch_detail" }

// Initial начальное состояние
func Initial() State {
	return State{}
}

// Transition чистая функция перехода: (состояние, событие) -> (новое состояние, команды).
// Не обращается к сети и не хранит состояния.
func Transition(s State, e Event) (State, []Command) {
	switch ev := e.(type) {
	case PointerEnter:
		next := s
		next.Hover = &Hover{RegionID: ev.RegionID, Position: copyPosition(ev.Position)}
		return next, nil

	case PointerLeave:
		next := s
		next.Hover = nil
		return next, nil

	case Click:
		next := s
		next.LastSeq = s.LastSeq + 1
		next.Selection = &Selection{
			RegionID: ev.RegionID,
			Seq:      next.LastSeq,
			Status:   StatusLoading,
		}
		return next, []Command{FetchDetail{RegionID: ev.RegionID, Seq: next.LastSeq}}

	case CloseSelection:
		next := s
		next.Selection = nil
		return next, nil

	case DetailLoaded:
		if !isCurrent(s, ev.RegionID, ev.Seq) {
			return s, nil
		}
		next := s
		next.Selection = &Selection{
			RegionID: ev.RegionID,
			Seq:      ev.Seq,
			Status:   StatusLoaded,
			Stats:    ev.Stats,
		}
		return next, nil

	case DetailFailed:
		if !isCurrent(s, ev.RegionID, ev.Seq) {
			return s, nil
		}
		msg := "detail request failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		next := s
		next.Selection = &Selection{
			RegionID: ev.RegionID,
			Seq:      ev.Seq,
			Status:   StatusError,
			Error:    msg,
		}
		return next, nil

	default:
		// PointerAt разрешается владельцем машины до перехода
		return s, nil
	}
}

// IsStale сообщает, что результат детального запроса относится не к текущему выбору
func IsStale(s State, e Event) bool {
	switch ev := e.(type) {
	case DetailLoaded:
		return !isCurrent(s, ev.RegionID, ev.Seq)
	case DetailFailed:
		return !isCurrent(s, ev.RegionID, ev.Seq)
	default:
		return false
	}
}

// isCurrent ответ применим только к текущему выбору в статусе loading
func isCurrent(s State, regionID int, seq uint64) bool {
	return s.Selection != nil &&
		s.Selection.RegionID == regionID &&
		s.Selection.Seq == seq &&
		s.Selection.Status == StatusLoading
}

func copyPosition(p *Position) *Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
