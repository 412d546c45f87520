package backend

import (
	"bytes"
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/models"
)

// wireStation is one row of GET /bike-inventory/latest as the backend sends
// it. Coordinates arrive either as stationLatitude/stationLongitude or as
// latitude/longitude, numbers or strings.
type wireStation struct {
	StationID         flexString `json:"stationId"`
	StationName       string     `json:"stationName"`
	ParkingBikeTotCnt flexNumber `json:"parkingBikeTotCnt"`
	RackTotCnt        flexNumber `json:"rackTotCnt"`
	StationLatitude   flexNumber `json:"stationLatitude"`
	StationLongitude  flexNumber `json:"stationLongitude"`
	Latitude          flexNumber `json:"latitude"`
	Longitude         flexNumber `json:"longitude"`
	Shared            flexNumber `json:"shared"`
}

func (w wireStation) normalize() (models.Station, bool) {
	lat := firstValid(w.StationLatitude, w.Latitude)
	lng := firstValid(w.StationLongitude, w.Longitude)
	if !lat.Valid || !lng.Valid {
		return models.Station{}, false
	}
	st := models.Station{
		ID:        string(w.StationID),
		Name:      w.StationName,
		Bikes:     w.ParkingBikeTotCnt.Int(),
		Racks:     w.RackTotCnt.Int(), // missing means 0
		Latitude:  lat.Value,
		Longitude: lng.Value,
		Shared:    w.Shared.Int(),
	}
	if st.Bikes < 0 {
		st.Bikes = 0
	}
	if err := st.Validate(); err != nil {
		return models.Station{}, false
	}
	return st, true
}

// DecodeStations normalizes an inventory payload. It accepts a bare array or
// an object wrapping the array in "data" or "stations". Rows without an id
// or usable coordinates are dropped and counted.
func DecodeStations(body []byte) ([]models.Station, int, error) {
	var rows []wireStation
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, 0, nil
	}
	if trimmed[0] == '{' {
		var wrapped struct {
			Data     []wireStation `json:"data"`
			Stations []wireStation `json:"stations"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, 0, err
		}
		rows = wrapped.Data
		if len(rows) == 0 {
			rows = wrapped.Stations
		}
	} else if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, 0, err
	}

	stations := make([]models.Station, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	dropped := 0
	for _, row := range rows {
		st, ok := row.normalize()
		if !ok || seen[st.ID] {
			dropped++
			continue
		}
		seen[st.ID] = true
		stations = append(stations, st)
	}
	return stations, dropped, nil
}

// Stations fetches the latest bike inventory.
func (c *Client) Stations(ctx context.Context) ([]models.Station, error) {
	var raw json.RawMessage
	if err := c.do(ctx, call{op: "stations", method: http.MethodGet, path: "/bike-inventory/latest"}, &raw); err != nil {
		return nil, err
	}
	stations, dropped, err := DecodeStations(raw)
	if err != nil {
		return nil, &Error{Op: "stations", Status: http.StatusOK, Code: CodeDecode, Message: "unexpected inventory payload", Cause: err}
	}
	if dropped > 0 {
		logging.Warn().Int("dropped", dropped).Int("kept", len(stations)).Msg("inventory rows without id or coordinates dropped")
	}
	return stations, nil
}
