package handler

import (
	"fmt"

	"github.com/flybeeper/region-heatmap/internal/interaction"
)

// EventRequest событие интерфейса карты в формате API:
//
//	{"type":"pointer_enter","regionId":77}
//	{"type":"pointer_at","lon":37.6,"lat":55.7}
//	{"type":"pointer_leave"}
//	{"type":"click","regionId":77}
//	{"type":"close_selection"}
type EventRequest struct {
	Type     string   `json:"type" binding:"required"`
	RegionID *int     `json:"regionId,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
}

// Event преобразует запрос в событие машины состояний
func (r EventRequest) Event() (interaction.Event, error) {
	switch r.Type {
	case "pointer_enter":
		if r.RegionID == nil {
			return nil, fmt.Errorf("pointer_enter requires regionId")
		}
		pos, err := r.position(false)
		if err != nil {
			return nil, err
		}
		return interaction.PointerEnter{RegionID: *r.RegionID, Position: pos}, nil

	case "pointer_at":
		pos, err := r.position(true)
		if err != nil {
			return nil, err
		}
		return interaction.PointerAt{Position: *pos}, nil

	case "pointer_leave":
		return interaction.PointerLeave{}, nil

	case "click":
		if r.RegionID == nil {
			return nil, fmt.Errorf("click requires regionId")
		}
		return interaction.Click{RegionID: *r.RegionID}, nil

	case "close_selection":
		return interaction.CloseSelection{}, nil

	case "":
		return nil, fmt.Errorf("event type is required")
	default:
		return nil, fmt.Errorf("unknown event type %q", r.Type)
	}
}

// position проверяет координаты указателя
func (r EventRequest) position(required bool) (*interaction.Position, error) {
	if r.Lon == nil || r.Lat == nil {
		if required || r.Lon != nil || r.Lat != nil {
			return nil, fmt.Errorf("%s requires both lon and lat", r.Type)
		}
		return nil, nil
	}
	if *r.Lat < -90 || *r.Lat > 90 {
		return nil, fmt.Errorf("latitude must be between -90 and 90")
	}
	if *r.Lon < -180 || *r.Lon > 180 {
		return nil, fmt.Errorf("longitude must be between -180 and 180")
	}
	return &interaction.Position{Lon: *r.Lon, Lat: *r.Lat}, nil
}
