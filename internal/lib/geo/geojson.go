package geo

import (
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// TrackFeature converts a travelled point sequence into a GeoJSON LineString
// feature. GeoJSON coordinate order is [lng, lat].
func TrackFeature(points []Point, properties map[string]interface{}) (*geojson.Feature, error) {
	if len(points) < 2 {
		return nil, errors.New("track requires at least 2 points")
	}

	line := make(orb.LineString, len(points))
	for i, point := range points {
		line[i] = orb.Point{point.Longitude, point.Latitude}
	}

	feature := geojson.NewFeature(line)
	for key, value := range properties {
		feature.Properties[key] = value
	}

	return feature, nil
}

// TrackJSON marshals the travelled point sequence as a GeoJSON
// FeatureCollection containing a single LineString feature.
func TrackJSON(points []Point, properties map[string]interface{}) ([]byte, error) {
	feature, err := TrackFeature(points, properties)
	if err != nil {
		return nil, err
	}

	collection := geojson.NewFeatureCollection()
	collection.Append(feature)
	return collection.MarshalJSON()
}
