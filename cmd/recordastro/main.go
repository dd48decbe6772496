// Package main provides a CLI tool to record real upstream responses for
// contract tests.
// Usage:
//
//	ASTROGATE_FREEASTRO_API_KEY=xxx go run ./cmd/recordastro \
//	  -upstream=freeastro \
//	  -endpoint=planets \
//	  -output=tests/contract/testdata/freeastro/planets.json
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Upstream configurations
var upstreamConfigs = map[string]struct {
	baseURL    string
	baseURLEnv string
	keyEnv     string
	authHeader string
}{
	"astroengine": {
		baseURL:    "http://localhost:4001",
		baseURLEnv: "ASTROGATE_ASTROENGINE_URL",
		keyEnv:     "ASTROGATE_ASTROENGINE_API_KEY",
		authHeader: "X-API-Key",
	},
	"freeastro": {
		baseURL:    "https://json.freeastrologyapi.com",
		baseURLEnv: "ASTROGATE_FREEASTRO_URL",
		keyEnv:     "ASTROGATE_FREEASTRO_API_KEY",
		authHeader: "x-api-key",
	},
}

// referenceBirth is the birth moment used for every recorded fixture so the
// golden files stay comparable across endpoints.
var referenceBirth = map[string]interface{}{
	"year":      1990,
	"month":     6,
	"date":      15,
	"hours":     10,
	"minutes":   30,
	"seconds":   0,
	"latitude":  28.6139,
	"longitude": 77.2090,
	"timezone":  5.5,
	"settings": map[string]string{
		"observation_point": "topocentric",
		"ayanamsha":         "lahiri",
	},
}

// Endpoint configurations
var endpointConfigs = map[string]struct {
	path        string
	requestBody map[string]interface{}
}{
	"planets": {
		path:        "/planets",
		requestBody: referenceBirth,
	},
	"chart_svg": {
		path:        "/horoscope-chart-svg-code",
		requestBody: referenceBirth,
	},
	"panchang": {
		path:        "/complete-panchang",
		requestBody: referenceBirth,
	},
	"match_making": {
		path: "/match-making",
		requestBody: map[string]interface{}{
			"female": referenceBirth,
			"male":   referenceBirth,
		},
	},
}

func main() {
	upstream := flag.String("upstream", "astroengine", "Upstream to record (astroengine, freeastro)")
	endpoint := flag.String("endpoint", "planets", "Endpoint to record (planets, chart_svg, panchang, match_making)")
	output := flag.String("output", "", "Output file path (required)")
	flag.Parse()

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: -output flag is required")
		flag.Usage()
		os.Exit(1)
	}

	uConfig, ok := upstreamConfigs[*upstream]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown upstream %q\n", *upstream)
		os.Exit(1)
	}

	eConfig, ok := endpointConfigs[*endpoint]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown endpoint %q\n", *endpoint)
		os.Exit(1)
	}

	baseURL := uConfig.baseURL
	if v := os.Getenv(uConfig.baseURLEnv); v != "" {
		baseURL = v
	}

	bodyBytes, err := json.Marshal(eConfig.requestBody)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling request body: %v\n", err)
		os.Exit(1)
	}

	url := baseURL + eConfig.path
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")

	if apiKey := os.Getenv(uConfig.keyEnv); apiKey != "" {
		req.Header.Set(uConfig.authHeader, apiKey)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	fmt.Printf("Sending request to POST %s...\n", url)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	fmt.Printf("Response status: %d %s\n", resp.StatusCode, resp.Status)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(1)
	}

	if err := writeOutput(*output, body); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Response saved to %s\n", *output)
}

// writeOutput pretty-prints JSON responses before saving; non-JSON bodies are
// written as-is.
func writeOutput(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err == nil {
		body = pretty.Bytes()
	}

	return os.WriteFile(path, body, 0o644)
}
