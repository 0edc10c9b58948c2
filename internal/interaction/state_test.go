package interaction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/region-heatmap/internal/models"
)

func statsFor(id int, flights int64) *models.RegionStatistics {
	return &models.RegionStatistics{RegionID: id, TotalFlights: models.Int64(flights)}
}

// apply последовательно применяет события и собирает команды
func apply(s State, events ...Event) (State, []Command) {
	var all []Command
	for _, e := range events {
		var cmds []Command
		s, cmds = Transition(s, e)
		all = append(all, cmds...)
	}
	return s, all
}

func TestTransition_HoverIsOrthogonalToSelection(t *testing.T) {
	s, _ := apply(Initial(),
		Click{RegionID: 1},
		PointerEnter{RegionID: 2, Position: &Position{Lon: 37, Lat: 55}},
	)
	assert.Equal(t, "hovering+selected", s.Phase())
	assert.Equal(t, 2, s.Hover.RegionID)
	assert.Equal(t, 1, s.Selection.RegionID)

	s, _ = Transition(s, PointerLeave{})
	assert.Nil(t, s.Hover)
	require.NotNil(t, s.Selection, "выбор остается после ухода указателя")
	assert.Equal(t, "selected", s.Phase())

	s, _ = apply(s, PointerEnter{RegionID: 3}, CloseSelection{})
	assert.Nil(t, s.Selection)
	require.NotNil(t, s.Hover, "наведение не зависит от закрытия выбора")
	assert.Equal(t, "hovering", s.Phase())

	s, _ = Transition(s, PointerLeave{})
	assert.Equal(t, "idle", s.Phase())
}

func TestTransition_ClickIssuesFetch(t *testing.T) {
	s, cmds := Transition(Initial(), Click{RegionID: 5})

	require.Len(t, cmds, 1)
	assert.Equal(t, FetchDetail{RegionID: 5, Seq: 1}, cmds[0])
	assert.Equal(t, StatusLoading, s.Selection.Status)
	assert.Equal(t, uint64(1), s.Selection.Seq)

	s, _ = Transition(s, DetailLoaded{RegionID: 5, Seq: 1, Stats: statsFor(5, 10)})
	assert.Equal(t, StatusLoaded, s.Selection.Status)
	assert.Equal(t, int64(10), s.Selection.Stats.Flights())
}

func TestTransition_DetailFailure(t *testing.T) {
	s, _ := apply(Initial(),
		Click{RegionID: 5},
		DetailFailed{RegionID: 5, Seq: 1, Err: errors.New("timeout")},
	)
	assert.Equal(t, StatusError, s.Selection.Status)
	assert.Equal(t, "timeout", s.Selection.Error)
	assert.Nil(t, s.Selection.Stats)
}

func TestTransition_OutOfOrderResponses(t *testing.T) {
	tests := []struct {
		name       string
		events     []Event
		wantRegion int
		wantStatus DetailStatus
		wantFlight int64
	}{
		{
			name: "late A after B loaded",
			events: []Event{
				Click{RegionID: 1},
				Click{RegionID: 2},
				DetailLoaded{RegionID: 2, Seq: 2, Stats: statsFor(2, 200)},
				DetailLoaded{RegionID: 1, Seq: 1, Stats: statsFor(1, 100)},
			},
			wantRegion: 2, wantStatus: StatusLoaded, wantFlight: 200,
		},
		{
			name: "late A while B pending",
			events: []Event{
				Click{RegionID: 1},
				Click{RegionID: 2},
				DetailLoaded{RegionID: 1, Seq: 1, Stats: statsFor(1, 100)},
			},
			wantRegion: 2, wantStatus: StatusLoading,
		},
		{
			name: "late A failure after B failed",
			events: []Event{
				Click{RegionID: 1},
				Click{RegionID: 2},
				DetailFailed{RegionID: 2, Seq: 2, Err: errors.New("boom")},
				DetailFailed{RegionID: 1, Seq: 1, Err: errors.New("late")},
			},
			wantRegion: 2, wantStatus: StatusError,
		},
		{
			name: "reselecting same region supersedes earlier fetch",
			events: []Event{
				Click{RegionID: 1},
				Click{RegionID: 1},
				DetailLoaded{RegionID: 1, Seq: 1, Stats: statsFor(1, 100)},
			},
			wantRegion: 1, wantStatus: StatusLoading,
		},
		{
			name: "duplicate response after loaded is ignored",
			events: []Event{
				Click{RegionID: 1},
				DetailLoaded{RegionID: 1, Seq: 1, Stats: statsFor(1, 100)},
				DetailFailed{RegionID: 1, Seq: 1, Err: errors.New("dup")},
			},
			wantRegion: 1, wantStatus: StatusLoaded, wantFlight: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := apply(Initial(), tt.events...)
			require.NotNil(t, s.Selection)
			assert.Equal(t, tt.wantRegion, s.Selection.RegionID)
			assert.Equal(t, tt.wantStatus, s.Selection.Status)
			if tt.wantFlight > 0 {
				assert.Equal(t, tt.wantFlight, s.Selection.Stats.Flights())
			}
		})
	}
}

func TestTransition_ResponseAfterCloseIsDropped(t *testing.T) {
	s, _ := apply(Initial(), Click{RegionID: 1}, CloseSelection{})
	assert.True(t, IsStale(s, DetailLoaded{RegionID: 1, Seq: 1}))

	next, cmds := Transition(s, DetailLoaded{RegionID: 1, Seq: 1, Stats: statsFor(1, 5)})
	assert.Nil(t, next.Selection)
	assert.Empty(t, cmds)
}

func TestTransition_DoesNotMutateInput(t *testing.T) {
	before, _ := Transition(Initial(), Click{RegionID: 1})
	selection := *before.Selection

	_, _ = Transition(before, DetailLoaded{RegionID: 1, Seq: 1, Stats: statsFor(1, 5)})
	assert.Equal(t, selection, *before.Selection)

	pos := &Position{Lon: 1, Lat: 2}
	hovered, _ := Transition(Initial(), PointerEnter{RegionID: 1, Position: pos})
	pos.Lon = 99
	assert.Equal(t, 1.0, hovered.Hover.Position.Lon)
}

func TestEventName(t *testing.T) {
	assert.Equal(t, "click", EventName(Click{}))
	assert.Equal(t, "pointer_at", EventName(PointerAt{}))
	assert.Equal(t, "nil", EventName(nil))
}
