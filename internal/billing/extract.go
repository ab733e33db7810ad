package billing

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// number matches a plain decimal or one grouped with thousands separators
const number = `(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`

// quantityRule pairs a pattern with the parser applied to its first capture group
type quantityRule struct {
	pattern *regexp.Regexp
	parse   func(string) (float64, bool)
}

// quantityField is an ordered list of rules for one numeric field. The first
// rule that matches decides the value, even if its numeral fails to parse.
type quantityField struct {
	name   string
	rules  []quantityRule
	assign func(*Fields, float64)
}

func rule(expr string) quantityRule {
	return quantityRule{
		pattern: regexp.MustCompile(`(?im)` + expr),
		parse:   parseNumber,
	}
}

var quantityFields = []quantityField{
	{
		name: "energy_kwh",
		rules: []quantityRule{
			rule(`(?:electric(?:ity)?(?:\s+usage)?[:\s]+)` + number + `\s*kwh`),
			rule(number + `\s*kwh`),
		},
		assign: func(f *Fields, v float64) { f.EnergyKWh = &v },
	},
	{
		name: "water_gallons",
		rules: []quantityRule{
			rule(`(?:water(?:\s+usage)?[:\s]+)` + number + `\s*(?:gallons?|gal)`),
		},
		assign: func(f *Fields, v float64) { f.WaterGallons = &v },
	},
	{
		name: "gas_therms",
		rules: []quantityRule{
			rule(`(?:gas|natural\s+gas)[:\s]+` + number + `\s*(?:therms?|th)`),
		},
		assign: func(f *Fields, v float64) { f.GasTherms = &v },
	},
	{
		// No emission factor exists for fuel yet, so the value is never stored.
		name: "fuel_liters",
		rules: []quantityRule{
			rule(`(?:diesel|petrol|fuel)[:\s]+` + number + `\s*(?:l|liters?)`),
		},
	},
	{
		name: "distance_km",
		rules: []quantityRule{
			rule(`(?:distance|flight|travel)[:\s]+` + number + `\s*km`),
		},
		assign: func(f *Fields, v float64) { f.DistanceKM = &v },
	},
}

// dateRule captures a date string from labeled context
type dateRule struct {
	pattern *regexp.Regexp
}

var dateRules = []dateRule{
	{regexp.MustCompile(`(?im)invoice\s+date[:\s]+([A-Za-z]+\s+\d{1,2},\s*\d{4})`)},
	{regexp.MustCompile(`(?im)invoice\s+date[:\s]+(\d{1,2}/\d{1,2}/\d{2,4})`)},
	{regexp.MustCompile(`(?im)date[:\s]+([A-Za-z]+\s+\d{1,2},\s*\d{4})`)},
	{regexp.MustCompile(`(?im)date[:\s]+(\d{1,2}-\d{1,2}-\d{2,4})`)},
}

// dateLayouts are tried in order against the captured date string.
// Day-first wins over month-first when both are valid.
var dateLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2/1/2006",
	"1/2/2006",
	"2-1-2006",
	"1-2-2006",
}

// vendorSkipMarkers identify template placeholder lines
var vendorSkipMarkers = []string{"[YOUR COMPANY", "Template.net"}

// vendorSkipPrefixes identify section headers (compared lowercased)
var vendorSkipPrefixes = []string{"bill to", "invoice", "utility bill"}

const vendorScanLines = 10

// Extract pulls billing fields out of raw OCR text. It never fails: anything
// that cannot be found is left nil.
func Extract(rawText string) Fields {
	var fields Fields

	for _, qf := range quantityFields {
		if qf.assign == nil {
			continue
		}
		if v, ok := firstQuantity(qf.rules, rawText); ok {
			qf.assign(&fields, v)
		}
	}

	if vendor, ok := findVendor(nonBlankLines(rawText)); ok {
		fields.Vendor = &vendor
	}

	if date, ok := findDate(rawText); ok {
		fields.Date = &date
	}

	return fields
}

// firstQuantity applies rules in order; the first matching rule wins
func firstQuantity(rules []quantityRule, text string) (float64, bool) {
	for _, r := range rules {
		m := r.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		return r.parse(m[1])
	}
	return 0, false
}

// parseNumber strips thousands separators and parses a float
func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// lineBreak matches every line boundary OCR output may carry
var lineBreak = regexp.MustCompile(`\r\n|[\n\r\v\f\x1c\x1d\x1e\x{85}\x{2028}\x{2029}]`)

func nonBlankLines(text string) []string {
	var lines []string
	for _, l := range lineBreak.Split(text, -1) {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func skipVendorLine(line string) bool {
	for _, marker := range vendorSkipMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	lower := strings.ToLower(line)
	for _, prefix := range vendorSkipPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// findVendor prefers an early line that looks like a domain or email, then
// falls back to the first usable line anywhere in the document
func findVendor(lines []string) (string, bool) {
	head := lines
	if len(head) > vendorScanLines {
		head = head[:vendorScanLines]
	}
	for _, l := range head {
		if skipVendorLine(l) {
			continue
		}
		if strings.ContainsAny(l, "@.") {
			return l, true
		}
	}
	for _, l := range lines {
		if !skipVendorLine(l) {
			return l, true
		}
	}
	return "", false
}

// findDate returns an ISO date, or the raw captured text when no layout fits
func findDate(text string) (string, bool) {
	for _, r := range dateRules {
		m := r.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := strings.TrimSpace(m[1])
		if d, ok := NormalizeDate(strings.Join(strings.Fields(raw), " ")); ok {
			return d, true
		}
		return raw, true
	}
	return "", false
}

// NormalizeDate parses s with the invoice date layouts and formats it as YYYY-MM-DD
func NormalizeDate(s string) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly), true
		}
	}
	return "", false
}
