package bridge

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func staticFixture(t *testing.T) http.Handler {
	t.Helper()

	root := t.TempDir()

	files := map[string]string{
		"index.html":  "<html>deck</html>",
		"app.js":      "render()",
		"stream.m3u8": "#EXTM3U",
		"seg0.ts":     "payload",
		"NOTES":       "plain",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	secret := filepath.Join(filepath.Dir(root), "outside.txt")
	if err := os.WriteFile(secret, []byte("secret"), 0o600); err != nil {
		t.Fatalf("write outside.txt: %v", err)
	}

	h, err := StaticHandler(root, nil)
	if err != nil {
		t.Fatalf("StaticHandler: %v", err)
	}

	return h
}

func serveGet(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	return rec
}

func TestStaticContentTypes(t *testing.T) {
	t.Parallel()

	h := staticFixture(t)

	cases := []struct {
		path string
		want string
	}{
		{"/index.html", "text/html; charset=utf-8"},
		{"/app.js", "text/javascript"},
		{"/stream.m3u8", "application/vnd.apple.mpegurl"},
		{"/seg0.ts", "video/mp2t"},
		{"/NOTES", "application/octet-stream"},
	}

	for _, tc := range cases {
		rec := serveGet(h, tc.path)

		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: status = %d, want %d", tc.path, rec.Code, http.StatusOK)
		}

		if got := rec.Header().Get("Content-Type"); got != tc.want {
			t.Fatalf("GET %s: Content-Type = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestStaticRootServesIndex(t *testing.T) {
	t.Parallel()

	rec := serveGet(staticFixture(t), "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	if got := rec.Body.String(); got != "<html>deck</html>" {
		t.Fatalf("body = %q, want index.html contents", got)
	}
}

func TestStaticMissingFile(t *testing.T) {
	t.Parallel()

	if rec := serveGet(staticFixture(t), "/nope.js"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestStaticTraversalStaysInsideRoot(t *testing.T) {
	t.Parallel()

	h := staticFixture(t)

	// outside.txt exists one level above the asset root; no request shape
	// may reach it.
	for _, target := range []string{
		"/../outside.txt",
		"/%2e%2e/outside.txt",
		"/a/../../outside.txt",
	} {
		rec := serveGet(h, target)

		if rec.Code == http.StatusOK {
			t.Fatalf("GET %s: status = %d, escaped the root", target, rec.Code)
		}

		if got := rec.Body.String(); got == "secret" {
			t.Fatalf("GET %s: leaked file outside the root", target)
		}
	}
}

func TestStaticRejectsNonReadMethods(t *testing.T) {
	t.Parallel()

	h := staticFixture(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/app.js", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
