package emission

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/zombor/agentcarbon/internal/billing"
)

// Category names an emission source
type Category string

const (
	Electricity Category = "electricity"
	Gas         Category = "gas"
	Water       Category = "water"
)

// Item is the emission attributed to one quantity on a bill
type Item struct {
	Type     Category `json:"type"`
	Quantity float64  `json:"quantity"`
	Unit     string   `json:"unit"`
	KgCO2    float64  `json:"kgco2"`
}

// Record is the emission breakdown for one set of billing fields
type Record struct {
	Items      []Item  `json:"items"`
	TotalKgCO2 float64 `json:"total_kgco2"`
}

// source binds a category to the field it reads and its factor in kg CO2 per unit
type source struct {
	category Category
	unit     string
	factor   float64
	quantity func(billing.Fields) *float64
}

// sources is evaluated in order; item order follows it
var sources = [...]source{
	{Electricity, "kWh", 0.233, func(f billing.Fields) *float64 { return f.EnergyKWh }},
	{Gas, "therms", 5.3, func(f billing.Fields) *float64 { return f.GasTherms }},
	{Water, "gallons", 0.0003, func(f billing.Fields) *float64 { return f.WaterGallons }},
}

// TotalPlaces is the number of decimal places kept in TotalKgCO2
const TotalPlaces = 3

// Factor returns the kg CO2 per unit for a category
func Factor(c Category) (float64, bool) {
	for _, s := range sources {
		if s.category == c {
			return s.factor, true
		}
	}
	return 0, false
}

// Factors returns a copy of the factor table
func Factors() map[Category]float64 {
	out := make(map[Category]float64, len(sources))
	for _, s := range sources {
		out[s.category] = s.factor
	}
	return out
}

// Compute converts each present quantity to kg CO2 and sums the result
func Compute(fields billing.Fields) Record {
	items := make([]Item, 0, len(sources))
	var sum float64
	for _, s := range sources {
		q := s.quantity(fields)
		if q == nil {
			continue
		}
		kg := *q * s.factor
		items = append(items, Item{
			Type:     s.category,
			Quantity: *q,
			Unit:     s.unit,
			KgCO2:    kg,
		})
		sum += kg
	}
	return Record{
		Items:      items,
		TotalKgCO2: Round(sum, TotalPlaces),
	}
}

// Round rounds v half away from zero to the given number of places
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
