package telemetry

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sweeney/tank-gateway/internal/state"
)

// Labels recognised in controller output. Matching is case-sensitive.
// A typical record looks like:
//
//	Temp: 25.00 °C | Humidity: 60.00 % | MQ4 Analog: 300 | MQ4 Digital: 0
const (
	LabelTemperature = "Temp:"
	LabelHumidity    = "Humidity:"
	LabelMethane     = "MQ4 Analog:"
)

var (
	temperatureRe = regexp.MustCompile(regexp.QuoteMeta(LabelTemperature) + `\s*([\d.]+)`)
	humidityRe    = regexp.MustCompile(regexp.QuoteMeta(LabelHumidity) + `\s*([\d.]+)`)
	methaneRe     = regexp.MustCompile(regexp.QuoteMeta(LabelMethane) + `\s*(\d+)`)
)

// Parse extracts temperature, humidity and the raw MQ4 analog reading from
// one record. The record is accepted only when all three labels are present;
// otherwise ok is false and the reading must be discarded whole.
//
// A label whose value run is not a number (e.g. "Temp: .") still counts as
// present, but that field is marked invalid so the store keeps its previous
// value.
func Parse(record string) (r state.Reading, ok bool) {
	text := strings.TrimSpace(record)
	if text == "" {
		return r, false
	}

	tm := temperatureRe.FindStringSubmatch(text)
	hm := humidityRe.FindStringSubmatch(text)
	mm := methaneRe.FindStringSubmatch(text)
	if tm == nil || hm == nil || mm == nil {
		return r, false
	}

	r.TemperatureC, r.TemperatureOK = parseDecimal(tm[1])
	r.HumidityPct, r.HumidityOK = parseDecimal(hm[1])
	if v, err := strconv.ParseUint(mm[1], 10, 0); err == nil {
		r.MethaneRaw, r.MethaneOK = uint(v), true
	}
	return r, true
}

// parseDecimal parses the longest numeric prefix of a digit-and-dot run, so
// "1.2.3" yields 1.2 and "." is invalid.
func parseDecimal(run string) (float64, bool) {
	end := len(run)
	if first := strings.IndexByte(run, '.'); first >= 0 {
		if second := strings.IndexByte(run[first+1:], '.'); second >= 0 {
			end = first + 1 + second
		}
	}
	s := strings.TrimSuffix(run[:end], ".")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
