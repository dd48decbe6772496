//go:build contract

// Package contract provides contract tests that validate the gateway's
// normalization of upstream response structures against recorded fixtures.
// Fixtures are captured with cmd/recordastro; these tests replay them without
// making real upstream calls.
package contract

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"astrogate/internal/upstream"
)

// testdataDir is the path to the testdata directory.
const testdataDir = "testdata"

// loadFixture reads a recorded upstream response from testdata.
func loadFixture(t *testing.T, path string) []byte {
	t.Helper()

	fullPath := filepath.Join(testdataDir, path)
	data, err := os.ReadFile(fullPath)
	require.NoError(t, err, "failed to read fixture %s", fullPath)
	return data
}

// replayServer serves the given fixture body for every request and returns an
// upstream client pointed at it.
func replayServer(t *testing.T, name string, body []byte) *upstream.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	return upstream.NewWithHTTPClient(srv.Client(), upstream.Config{
		Name:    name,
		BaseURL: srv.URL,
	}, nil)
}
