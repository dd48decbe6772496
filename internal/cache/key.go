package cache

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"astrogate/internal/core"
)

// Key derives the deterministic cache key for a single-person computation.
// The canonical string covers only cache-relevant fields: date-time components
// at second precision, coordinates rounded to 4 decimal places (~11 m, so
// floating-point noise does not fragment the cache), the timezone offset, and
// the chart-configuration flags. Astronomically equivalent requests hash to
// the same key.
func Key(kind core.ComputationKind, req *core.BirthDetails) string {
	return string(kind) + ":" + hashHex(canonical(req))
}

// MatchKey derives the cache key for a two-person compatibility computation.
func MatchKey(kind core.ComputationKind, req *core.MatchRequest) string {
	return string(kind) + ":" + hashHex(canonical(&req.Female)+"|"+canonical(&req.Male))
}

func canonical(b *core.BirthDetails) string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d|%.4f|%.4f|%g|%s|%s",
		b.Year, b.Month, b.Date, b.Hours, b.Minutes, b.Seconds,
		round4(b.Latitude), round4(b.Longitude), b.Timezone,
		b.ObservationPoint, b.Ayanamsha,
	)
}

// round4 rounds to 4 decimal places before formatting so values either side
// of a %.4f rounding boundary cannot produce different keys for coordinates
// within noise distance of each other.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func hashHex(canonical string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(canonical))
}
