package core

import (
	"errors"
	"fmt"
	"time"
)

// ComputationKind identifies one logical gateway operation.
type ComputationKind string

const (
	KindBirthChart    ComputationKind = "birth_chart"
	KindChartSVG      ComputationKind = "chart_svg"
	KindPanchang      ComputationKind = "panchang"
	KindCompatibility ComputationKind = "compatibility"
)

// Default birth parameters applied when the client omits a location.
// New Delhi coordinates with the IST offset, matching the upstream defaults.
const (
	DefaultLatitude         = 28.6139
	DefaultLongitude        = 77.2090
	DefaultTimezone         = 5.5
	DefaultObservationPoint = "topocentric"
	DefaultAyanamsha        = "lahiri"
)

// BirthDetails carries normalized birth parameters in the upstream wire
// format: split date-time components in local time, decimal coordinates, and
// a signed timezone offset in hours.
type BirthDetails struct {
	Year    int `json:"year"`
	Month   int `json:"month"`
	Date    int `json:"date"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  float64 `json:"timezone"`

	// ObservationPoint is "topocentric" or "geocentric".
	ObservationPoint string `json:"observation_point,omitempty"`
	// Ayanamsha selects the sidereal zodiac reference.
	Ayanamsha string `json:"ayanamsha,omitempty"`
}

var validAyanamshas = map[string]bool{
	"lahiri":        true,
	"raman":         true,
	"krishnamurti":  true,
	"thirukanitham": true,
}

// ApplyDefaults fills omitted optional fields. A zero location (all of
// latitude, longitude, and timezone unset) falls back to the reference
// location rather than the Gulf of Guinea.
func (b *BirthDetails) ApplyDefaults() {
	if b.Latitude == 0 && b.Longitude == 0 && b.Timezone == 0 {
		b.Latitude = DefaultLatitude
		b.Longitude = DefaultLongitude
		b.Timezone = DefaultTimezone
	}
	if b.ObservationPoint == "" {
		b.ObservationPoint = DefaultObservationPoint
	}
	if b.Ayanamsha == "" {
		b.Ayanamsha = DefaultAyanamsha
	}
}

// Validate checks field ranges against the upstream contract.
func (b *BirthDetails) Validate() error {
	var errs []error
	if b.Year < 1800 || b.Year > 2200 {
		errs = append(errs, fmt.Errorf("year must be between 1800 and 2200, got %d", b.Year))
	}
	if b.Month < 1 || b.Month > 12 {
		errs = append(errs, fmt.Errorf("month must be between 1 and 12, got %d", b.Month))
	}
	if b.Date < 1 || b.Date > 31 {
		errs = append(errs, fmt.Errorf("date must be between 1 and 31, got %d", b.Date))
	}
	if b.Hours < 0 || b.Hours > 23 {
		errs = append(errs, fmt.Errorf("hours must be between 0 and 23, got %d", b.Hours))
	}
	if b.Minutes < 0 || b.Minutes > 59 {
		errs = append(errs, fmt.Errorf("minutes must be between 0 and 59, got %d", b.Minutes))
	}
	if b.Seconds < 0 || b.Seconds > 59 {
		errs = append(errs, fmt.Errorf("seconds must be between 0 and 59, got %d", b.Seconds))
	}
	if b.Latitude < -90 || b.Latitude > 90 {
		errs = append(errs, fmt.Errorf("latitude must be between -90 and 90, got %g", b.Latitude))
	}
	if b.Longitude < -180 || b.Longitude > 180 {
		errs = append(errs, fmt.Errorf("longitude must be between -180 and 180, got %g", b.Longitude))
	}
	if b.Timezone < -12 || b.Timezone > 14 {
		errs = append(errs, fmt.Errorf("timezone must be between -12 and 14, got %g", b.Timezone))
	}
	if b.ObservationPoint != "" && b.ObservationPoint != "topocentric" && b.ObservationPoint != "geocentric" {
		errs = append(errs, fmt.Errorf("observation_point must be topocentric or geocentric, got %q", b.ObservationPoint))
	}
	if b.Ayanamsha != "" && !validAyanamshas[b.Ayanamsha] {
		errs = append(errs, fmt.Errorf("unsupported ayanamsha %q", b.Ayanamsha))
	}
	return errors.Join(errs...)
}

// MatchRequest carries the two birth charts for a compatibility computation.
type MatchRequest struct {
	Female BirthDetails `json:"female"`
	Male   BirthDetails `json:"male"`
}

// ApplyDefaults fills omitted optional fields on both persons.
func (m *MatchRequest) ApplyDefaults() {
	m.Female.ApplyDefaults()
	m.Male.ApplyDefaults()
}

// Validate checks both persons' field ranges.
func (m *MatchRequest) Validate() error {
	if err := m.Female.Validate(); err != nil {
		return fmt.Errorf("female: %w", err)
	}
	if err := m.Male.Validate(); err != nil {
		return fmt.Errorf("male: %w", err)
	}
	return nil
}

// PlanetPosition is one planet's placement in a birth chart.
type PlanetPosition struct {
	Name          string  `json:"name"`
	FullDegree    float64 `json:"fullDegree"`
	NormDegree    float64 `json:"normDegree"`
	Speed         float64 `json:"speed"`
	IsRetro       bool    `json:"isRetro"`
	Sign          string  `json:"sign"`
	SignLord      string  `json:"signLord"`
	Nakshatra     string  `json:"nakshatra"`
	NakshatraLord string  `json:"nakshatraLord"`
	House         int     `json:"house"`
}

// HouseInfo is one house cusp in a birth chart.
type HouseInfo struct {
	House  int     `json:"house"`
	Sign   string  `json:"sign"`
	Degree float64 `json:"degree"`
}

// BirthChart is the normalized birth-chart payload.
type BirthChart struct {
	Input     BirthDetails     `json:"input"`
	Ascendant float64          `json:"ascendant"`
	Planets   []PlanetPosition `json:"planets"`
	Houses    []HouseInfo      `json:"houses"`
}

// ChartSVG is the normalized chart-image payload. Output holds SVG markup.
type ChartSVG struct {
	StatusCode int    `json:"statusCode"`
	Output     string `json:"output"`
}

// Panchang is the normalized daily-almanac payload. Sunrise and sunset are
// upstream-formatted local time strings.
type Panchang struct {
	Date      string `json:"date"`
	Tithi     string `json:"tithi"`
	Nakshatra string `json:"nakshatra"`
	Yoga      string `json:"yoga"`
	Karana    string `json:"karana"`
	Sunrise   string `json:"sunrise"`
	Sunset    string `json:"sunset"`
}

// GunaScore is one factor of an ashtakoota compatibility match.
type GunaScore struct {
	Name      string  `json:"name"`
	Points    float64 `json:"points"`
	MaxPoints float64 `json:"maxPoints"`
}

// Compatibility is the normalized match-making payload (ashtakoota, 36 points).
type Compatibility struct {
	TotalPoints float64     `json:"totalPoints"`
	MaxPoints   float64     `json:"maxPoints"`
	Gunas       []GunaScore `json:"gunas,omitempty"`
	Verdict     string      `json:"verdict,omitempty"`
}

// Source identifies where a gateway result came from.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
	SourceCache    Source = "cache"
)

// Result is the uniform contract returned by every gateway operation.
// It is constructed once per request and never mutated afterwards.
type Result struct {
	Data       any       `json:"data"`
	Source     Source    `json:"source"`
	ComputedAt time.Time `json:"computedAt"`
	// ExpiresAt is zero when the result was not cached.
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}
