package handler

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/flybeeper/region-heatmap/internal/models"
)

const contentTypeProtobuf = "application/x-protobuf"

// convertRegionsToProto кодирует GeoJSON набора как google.protobuf.Struct
func convertRegionsToProto(ds *models.Dataset) ([]byte, error) {
	raw, err := json.Marshal(ds.FeatureCollection())
	if err != nil {
		return nil, fmt.Errorf("failed to encode feature collection: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode feature collection: %w", err)
	}

	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build protobuf struct: %w", err)
	}
	return proto.Marshal(st)
}

// convertBoundToJSON прямоугольник карты для fitBounds
func convertBoundToJSON(b orb.Bound) map[string]interface{} {
	return map[string]interface{}{
		"minLon": b.Min.Lon(),
		"minLat": b.Min.Lat(),
		"maxLon": b.Max.Lon(),
		"maxLat": b.Max.Lat(),
		// [[south, west], [north, east]] как ждут веб-карты
		"leaflet": [][2]float64{
			{b.Min.Lat(), b.Min.Lon()},
			{b.Max.Lat(), b.Max.Lon()},
		},
	}
}
