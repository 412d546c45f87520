// Package geo exports stations as GeoJSON for map clients and GIS tools.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/MADA-gnuBD/bikeops/models"
)

// Classifier assigns a marker status to a station
type Classifier func(models.Station) string

// Colorer maps a marker status to a hex colour
type Colorer func(status string) string

// Stations builds a FeatureCollection with one Point feature per station.
// Stations at (0, 0) carry no usable position and are skipped.
func Stations(stations []models.Station, classify Classifier, color Colorer) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	var points orb.MultiPoint

	for _, s := range stations {
		if s.Latitude == 0 && s.Longitude == 0 {
			continue
		}
		pt := s.Point()
		points = append(points, pt)

		f := geojson.NewFeature(pt)
		f.ID = s.ID
		f.Properties["id"] = s.ID
		f.Properties["name"] = s.Name
		f.Properties["bikes"] = s.Bikes
		f.Properties["racks"] = s.Racks
		f.Properties["shared"] = s.Shared
		if classify != nil {
			status := classify(s)
			f.Properties["status"] = status
			if color != nil {
				f.Properties["color"] = color(status)
			}
		}
		fc.Append(f)
	}

	if len(points) > 0 {
		fc.BBox = geojson.NewBBox(points.Bound())
	}
	return fc
}
