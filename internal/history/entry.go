package history

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/agentcarbon/internal/billing"
	"github.com/zombor/agentcarbon/internal/emission"
)

// Entry is a persisted pair of billing fields and their emissions.
// Emissions is nil when the stored record carries no usable total.
type Entry struct {
	ID        string           `json:"id"`
	Fields    billing.Fields   `json:"fields"`
	Emissions *emission.Record `json:"emissions"`
	CreatedAt time.Time        `json:"created_at"`
}

// VectorSize is the dimension of the feature vector stored with each entry
const VectorSize = 3

// Vector derives the feature vector [energy_kwh, water_gallons, total_kgco2].
// Missing quantities count as zero here only.
func Vector(fields billing.Fields, emissions emission.Record) []float32 {
	return []float32{
		float32(billing.Value(fields.EnergyKWh)),
		float32(billing.Value(fields.WaterGallons)),
		float32(emissions.TotalKgCO2),
	}
}

// payload is the stored document shape
type payload struct {
	Fields    billing.Fields  `json:"fields"`
	Emissions json.RawMessage `json:"emissions"`
	Vector    []float32       `json:"vector,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// storedEmissions reads a total that may be missing, a number or a numeric string
type storedEmissions struct {
	Items []emission.Item `json:"items"`
	Total json.RawMessage `json:"total_kgco2"`
}

func encodePayload(fields billing.Fields, emissions emission.Record, createdAt time.Time) ([]byte, error) {
	rec, err := json.Marshal(emissions)
	if err != nil {
		return nil, fmt.Errorf("marshaling emissions: %w", err)
	}
	data, err := json.Marshal(payload{
		Fields:    fields,
		Emissions: rec,
		Vector:    Vector(fields, emissions),
		CreatedAt: createdAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling entry: %w", err)
	}
	return data, nil
}

func decodeEntry(id string, data []byte) (Entry, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Entry{}, fmt.Errorf("unmarshaling entry %s: %w", id, err)
	}
	entry := Entry{
		ID:        id,
		Fields:    p.Fields,
		CreatedAt: p.CreatedAt,
	}
	if rec, ok := decodeEmissions(p.Emissions); ok {
		entry.Emissions = &rec
	}
	return entry, nil
}

func decodeEmissions(raw json.RawMessage) (emission.Record, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return emission.Record{}, false
	}
	var se storedEmissions
	if err := json.Unmarshal(raw, &se); err != nil {
		return emission.Record{}, false
	}
	total, ok := parseTotal(se.Total)
	if !ok {
		return emission.Record{}, false
	}
	if se.Items == nil {
		se.Items = []emission.Item{}
	}
	return emission.Record{Items: se.Items, TotalKgCO2: total}, true
}

func parseTotal(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
