package history

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/zombor/agentcarbon/internal/emission"
)

// MinForecastPoints is the smallest series a trend is fitted to
const MinForecastPoints = 3

// ForecastPlaces is the number of decimal places kept in a prediction
const ForecastPlaces = 2

// ForecastResult holds the next-period estimate. A nil prediction means the
// history was too short or too irregular to fit.
type ForecastResult struct {
	PredictedKgCO2 *float64 `json:"predicted_kgco2"`
}

// Forecast fits a linear trend to a sorted series and predicts total emissions
// at the next month end after the last observation. It never fails; any
// problem yields an empty result.
func Forecast(points []Point) (result ForecastResult) {
	if len(points) < MinForecastPoints {
		return ForecastResult{}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Forecast fit panicked", "error", fmt.Sprint(r))
			result = ForecastResult{}
		}
	}()

	pred, err := fitAndPredict(points)
	if err != nil {
		slog.Debug("Forecast unavailable", "points", len(points), "error", err)
		return ForecastResult{}
	}
	rounded := emission.Round(pred, ForecastPlaces)
	return ForecastResult{PredictedKgCO2: &rounded}
}

func fitAndPredict(points []Point) (float64, error) {
	origin := points[0].Timestamp
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		if i > 0 && p.Timestamp.Before(points[i-1].Timestamp) {
			return 0, fmt.Errorf("series not sorted at index %d", i)
		}
		xs[i] = days(origin, p.Timestamp)
		ys[i] = p.TotalKgCO2
	}
	if xs[len(xs)-1] == xs[0] {
		return 0, fmt.Errorf("all %d points share one timestamp", len(points))
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	horizon := NextMonthEnd(points[len(points)-1].Timestamp)
	pred := alpha + beta*days(origin, horizon)
	if math.IsNaN(pred) || math.IsInf(pred, 0) {
		return 0, fmt.Errorf("fit produced %v", pred)
	}
	return pred, nil
}

func days(origin, t time.Time) float64 {
	return t.Sub(origin).Hours() / 24
}

// NextMonthEnd returns the first calendar month end strictly after t, at midnight
func NextMonthEnd(t time.Time) time.Time {
	y, m, _ := t.Date()
	end := time.Date(y, m+1, 0, 0, 0, 0, 0, t.Location())
	if !end.After(t) {
		end = time.Date(y, m+2, 0, 0, 0, 0, 0, t.Location())
	}
	return end
}
