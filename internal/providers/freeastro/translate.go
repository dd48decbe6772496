package freeastro

import (
	"net/http"

	"github.com/tidwall/gjson"

	"astrogate/internal/core"
)

// The vendor wraps payloads inconsistently: sometimes bare, sometimes under
// "data" (object or single-element list), sometimes as {statusCode, output}
// where output may itself be a JSON-encoded string. unwrap digs out the
// payload wherever it landed.
func unwrap(raw []byte) gjson.Result {
	root := gjson.ParseBytes(raw)

	if data := root.Get("data"); data.Exists() {
		if data.IsArray() {
			if arr := data.Array(); len(arr) > 0 {
				return arr[0]
			}
		}
		if data.IsObject() {
			return data
		}
	}

	if output := root.Get("output"); output.Exists() {
		if output.Type == gjson.String {
			if parsed := gjson.Parse(output.String()); parsed.IsObject() || parsed.IsArray() {
				return parsed
			}
		}
		if output.IsObject() || output.IsArray() {
			return output
		}
	}

	return root
}

// first returns the first existing value among alias paths.
func first(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// firstString returns the first alias that holds a primitive value, skipping
// objects so a nested form like {"tithi": {"name": ...}} falls through to its
// "tithi.name" alias instead of leaking raw JSON.
func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && (v.Type == gjson.String || v.Type == gjson.Number) {
			return v.String()
		}
	}
	return ""
}

func badPayload(message string) error {
	return core.NewHTTPError("freeastro", http.StatusBadGateway, message)
}

func normalizeBirthChart(raw []byte) (*core.BirthChart, error) {
	envelope := unwrap(raw)

	planetList := envelope
	if !envelope.IsArray() {
		planetList = first(envelope, "planets", "planet_positions", "output")
	}
	if !planetList.Exists() && !envelope.IsArray() {
		return nil, badPayload("birth chart response has no planet list")
	}

	chart := &core.BirthChart{}
	for _, item := range planetList.Array() {
		name := firstString(item, "name", "planet")
		if name == "" {
			continue
		}
		if name == "Ascendant" {
			chart.Ascendant = first(item, "fullDegree", "full_degree").Float()
			continue
		}
		chart.Planets = append(chart.Planets, core.PlanetPosition{
			Name:          name,
			FullDegree:    first(item, "fullDegree", "full_degree").Float(),
			NormDegree:    first(item, "normDegree", "norm_degree").Float(),
			Speed:         item.Get("speed").Float(),
			IsRetro:       first(item, "isRetro", "is_retro", "retro").Bool(),
			Sign:          firstString(item, "sign", "rashi", "zodiac_sign"),
			SignLord:      firstString(item, "signLord", "sign_lord"),
			Nakshatra:     firstString(item, "nakshatra", "nakshatra_name"),
			NakshatraLord: firstString(item, "nakshatraLord", "nakshatra_lord"),
			House:         int(first(item, "house", "house_number").Int()),
		})
	}
	if len(chart.Planets) == 0 {
		return nil, badPayload("birth chart response has no planets")
	}

	if asc := first(envelope, "ascendant", "lagna"); asc.Exists() {
		chart.Ascendant = asc.Float()
	}

	for _, item := range first(envelope, "houses", "house_cusps").Array() {
		chart.Houses = append(chart.Houses, core.HouseInfo{
			House:  int(first(item, "house", "house_number").Int()),
			Sign:   firstString(item, "sign", "rashi"),
			Degree: first(item, "degree", "degree_within_sign").Float(),
		})
	}

	return chart, nil
}

func normalizeChartSVG(raw []byte) (*core.ChartSVG, error) {
	root := gjson.ParseBytes(raw)

	svg := firstString(root, "output", "svg", "data.svg", "data.output")
	if svg == "" {
		return nil, badPayload("chart svg response has no markup")
	}
	return &core.ChartSVG{StatusCode: http.StatusOK, Output: svg}, nil
}

func normalizePanchang(raw []byte) (*core.Panchang, error) {
	envelope := unwrap(raw)

	panchang := &core.Panchang{
		Date:      firstString(envelope, "date", "day"),
		Tithi:     firstString(envelope, "tithi", "tithi_name", "tithi.name"),
		Nakshatra: firstString(envelope, "nakshatra", "nakshatra_name", "nakshatra.name"),
		Yoga:      firstString(envelope, "yoga", "yoga_name", "yoga.name"),
		Karana:    firstString(envelope, "karana", "karana_name", "karana.name"),
		Sunrise:   firstString(envelope, "sunrise", "sunrise_time"),
		Sunset:    firstString(envelope, "sunset", "sunset_time"),
	}
	if panchang.Tithi == "" && panchang.Nakshatra == "" {
		return nil, badPayload("panchang response has no recognizable fields")
	}
	return panchang, nil
}

func normalizeCompatibility(raw []byte) (*core.Compatibility, error) {
	envelope := unwrap(raw)

	match := &core.Compatibility{
		TotalPoints: first(envelope, "totalPoints", "total_points", "total_score", "score").Float(),
		MaxPoints:   first(envelope, "maxPoints", "max_points", "out_of").Float(),
		Verdict:     firstString(envelope, "verdict", "conclusion", "bot_response"),
	}
	if match.MaxPoints == 0 {
		match.MaxPoints = 36
	}

	for _, item := range first(envelope, "gunas", "kootas", "ashtakoota").Array() {
		match.Gunas = append(match.Gunas, core.GunaScore{
			Name:      firstString(item, "name", "guna", "koota"),
			Points:    first(item, "points", "received_points", "score").Float(),
			MaxPoints: first(item, "maxPoints", "max_points", "out_of").Float(),
		})
	}

	if match.TotalPoints == 0 && len(match.Gunas) == 0 {
		return nil, badPayload("compatibility response has no score")
	}
	return match, nil
}
