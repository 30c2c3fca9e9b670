package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func albumSite(t *testing.T) *httptest.Server {
	t.Helper()
	var page strings.Builder
	page.WriteString("<html><body><h1>Astroworld</h1>")
	for i := 1; i <= 30; i++ {
		fmt.Fprintf(&page, "<div class=\"chart_row\"><h3 class=\"chart_row-content-title\">Track %d Lyrics</h3>"+
			"<p>Produced by Mike Dean and WondaGurl</p></div>\n", i)
	}
	page.WriteString("</body></html>")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, page.String())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestScrapeWritesCSV(t *testing.T) {
	t.Parallel()

	site := albumSite(t)
	cfgPath := writeFile(t, "config.yaml", fmt.Sprintf(`
fetch:
  album_url_template: %s/albums/%%s/%%s
  search_url_template: ""
logging:
  level: error
`, site.URL))

	stdout, stderr, err := execute(t, "scrape", "--config", cfgPath, "--env-file", "", "Travis Scott - Astroworld")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Equal(t, "Track,Producer,Handle", lines[0])
	require.Len(t, lines, 61)
	require.Equal(t, "Track 1,Mike Dean,mikedean", lines[1])
	require.Contains(t, stderr, "60 credits, 60 handles")
}

func TestScrapeReportsNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	cfgPath := writeFile(t, "config.yaml", fmt.Sprintf(`
fetch:
  album_url_template: %s/albums/%%s/%%s
  search_url_template: ""
  max_candidates: 2
logging:
  level: error
`, srv.URL))

	_, _, err := execute(t, "scrape", "--config", cfgPath, "--env-file", "", "Nobody - Nothing")
	require.ErrorContains(t, err, "document not found after 2 attempts")
}

func TestInvalidConfigFailsBeforeRunning(t *testing.T) {
	t.Parallel()

	cfgPath := writeFile(t, "config.yaml", "pool:\n  max_concurrent: 0\n")
	_, _, err := execute(t, "serve", "--config", cfgPath, "--env-file", "")
	require.ErrorContains(t, err, "pool.max_concurrent")
}

func TestLoadEnvFile(t *testing.T) {
	t.Parallel()

	require.NoError(t, loadEnvFile(""))
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	require.Error(t, loadEnvFile(t.TempDir()))
}
