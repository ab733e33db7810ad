package history

import (
	"math"
	"sort"
	"time"
)

// Point is one observation in the emissions time series
type Point struct {
	Timestamp  time.Time `json:"timestamp"`
	TotalKgCO2 float64   `json:"total_kgco2"`
}

// timestampLayouts are tried in order against stored dates
var timestampLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
	"2/1/2006",
	"2006-1-2T15:04:05",
}

// Normalize turns stored entries into a chronologically sorted series.
// Entries without a date or total, or whose date cannot be read, are dropped.
func Normalize(entries []Entry) []Point {
	points := make([]Point, 0, len(entries))
	for _, e := range entries {
		if e.Fields.Date == nil || *e.Fields.Date == "" || e.Emissions == nil {
			continue
		}
		total := e.Emissions.TotalKgCO2
		if math.IsNaN(total) || math.IsInf(total, 0) {
			continue
		}
		ts, ok := ParseTimestamp(*e.Fields.Date)
		if !ok {
			continue
		}
		points = append(points, Point{Timestamp: ts, TotalKgCO2: total})
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}

// ParseTimestamp reads a stored date. RFC 3339 values are already timestamps
// and are used as is.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
