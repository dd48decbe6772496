//go:build contract

package contract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrogate/internal/providers/astroengine"
)

func TestAstroEngineBirthChartContract(t *testing.T) {
	client := replayServer(t, "astroengine", loadFixture(t, "astroengine/planets.json"))
	provider := astroengine.NewWithClient(client, time.Second)

	chart, err := provider.BirthChart(context.Background(), referenceBirth())
	require.NoError(t, err)

	assert.InDelta(t, 128.5471, chart.Ascendant, 0.0001)
	require.Len(t, chart.Planets, 2)
	assert.Equal(t, "Sun", chart.Planets[0].Name)
	assert.Equal(t, "Moon", chart.Planets[1].Name)
	assert.Equal(t, "Shatabhisha", chart.Planets[1].Nakshatra)

	require.Len(t, chart.Houses, 2)
	assert.Equal(t, "Leo", chart.Houses[0].Sign)
	assert.InDelta(t, 8.5471, chart.Houses[0].Degree, 0.0001)
}

func TestAstroEnginePanchangContract(t *testing.T) {
	client := replayServer(t, "astroengine", loadFixture(t, "astroengine/panchang.json"))
	provider := astroengine.NewWithClient(client, time.Second)

	panchang, err := provider.Panchang(context.Background(), referenceBirth())
	require.NoError(t, err)

	assert.Equal(t, "Krishna Ashtami", panchang.Tithi)
	assert.Equal(t, "Uttara Bhadrapada", panchang.Nakshatra)
	assert.Equal(t, "05:23:41", panchang.Sunrise)
}
