package models

import (
	"time"
)

// Location is a GeoJSON point snapshot captured at trigger time. Coordinates
// are [longitude, latitude] so the document stays compatible with mongo 2dsphere
// indexes.
type Location struct {
	Type           string    `json:"type" bson:"type" default:"Point"`
	Coordinates    []float64 `json:"coordinates" bson:"coordinates" validate:"required,len=2"`
	AccuracyMeters float64   `json:"accuracy_meters" bson:"accuracy_meters"`
	Address        string    `json:"address" bson:"address"`
	Region         string    `json:"region" bson:"region"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
}

func NewLocation(lat, lon, accuracy float64) Location {
	return Location{
		Type:           "Point",
		Coordinates:    []float64{lon, lat},
		AccuracyMeters: accuracy,
		Timestamp:      time.Now(),
	}
}

func (l Location) Latitude() float64 {
	if len(l.Coordinates) >= 2 {
		return l.Coordinates[1]
	}
	return 0
}

func (l Location) Longitude() float64 {
	if len(l.Coordinates) >= 1 {
		return l.Coordinates[0]
	}
	return 0
}
