package billing

// Fields contains the billing quantities and metadata extracted from one document.
// A nil pointer means the value was not found in the source text.
type Fields struct {
	EnergyKWh    *float64 `json:"energy_kwh"`
	WaterGallons *float64 `json:"water_gallons"`
	GasTherms    *float64 `json:"gas_therms"`
	FuelLiters   *float64 `json:"fuel_liters"`
	DistanceKM   *float64 `json:"distance_km"`
	Vendor       *string  `json:"vendor"`
	Date         *string  `json:"date"` // ISO 8601 date, or the raw match when it could not be parsed
}

// Float returns a pointer to v, for building Fields by hand
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to s
func String(s string) *string {
	return &s
}

// Value returns the pointed-to value or 0 when absent
func Value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
