package bridge

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// mimeByExt is the asset type map the relay serves. Stream artifacts get
// their HLS types so browsers hand them to the media stack.
var mimeByExt = map[string]string{
	".html":  "text/html; charset=utf-8",
	".js":    "text/javascript",
	".css":   "text/css",
	".json":  "application/json",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".m3u8":  "application/vnd.apple.mpegurl",
	".ts":    "video/mp2t",
}

type staticHandler struct {
	root string
	log  *slog.Logger
}

// StaticHandler serves files under root. Requests whose resolved path is
// not a descendant of root are refused.
func StaticHandler(root string, log *slog.Logger) (http.Handler, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	return &staticHandler{root: abs, log: log}, nil
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := path.Clean("/" + r.URL.Path)

	full, err := filepath.Abs(filepath.Join(h.root, filepath.FromSlash(name)))
	if err != nil || !h.descendant(full) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
	}

	if err != nil {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(full)
	if err != nil {
		h.log.Warn("bridge: asset open failed", "path", full, "err", err)
		http.NotFound(w, r)

		return
	}
	defer f.Close()

	ctype := mimeByExt[strings.ToLower(filepath.Ext(full))]
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	w.Header().Set("Content-Type", ctype)
	http.ServeContent(w, r, filepath.Base(full), info.ModTime(), f)
}

// descendant reports whether p lies under the handler root.
func (h *staticHandler) descendant(p string) bool {
	if p == h.root {
		return true
	}

	return strings.HasPrefix(p, h.root+string(filepath.Separator))
}
