package render

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/algo-vj/internal/testutil"
)

type fakeTrack struct {
	pic Picture

	mu      sync.Mutex
	stopped bool
	reads   int
}

func (ft *fakeTrack) Read(time.Time) (Picture, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if ft.stopped {
		return Picture{}, false
	}

	ft.reads++

	return ft.pic, true
}

func (ft *fakeTrack) Stop() {
	ft.mu.Lock()
	ft.stopped = true
	ft.mu.Unlock()
}

func (ft *fakeTrack) Ended() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	return ft.stopped
}

type fakeCapture struct {
	track Track
	err   error
	delay time.Duration
}

func (fc *fakeCapture) Open(ctx context.Context) (Track, error) {
	if fc.err != nil {
		return nil, fc.err
	}

	if fc.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fc.delay):
		}
	}

	return fc.track, nil
}

func redPicture(w, h int) Picture {
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i] = 255
		pix[i+3] = 255
	}

	return Picture{Pix: pix, W: w, H: h}
}

func TestCameraNilBackendIsUnavailable(t *testing.T) {
	t.Parallel()

	o := NewCamera(nil, FitCover)

	err := o.Start(context.Background(), NewSurface(8, 8))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("start error = %v, want %v", err, ErrDeviceUnavailable)
	}
}

func TestCameraOpenTimeoutIsUnavailable(t *testing.T) {
	t.Parallel()

	o := NewCamera(&fakeCapture{track: &fakeTrack{}, delay: time.Minute}, FitCover)
	o.timeout = 20 * time.Millisecond

	err := o.Start(context.Background(), NewSurface(8, 8))
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("start error = %v, want %v", err, ErrDeviceUnavailable)
	}
}

func TestCameraDrawsFittedFrames(t *testing.T) {
	t.Parallel()

	track := &fakeTrack{pic: redPicture(2, 2)}
	o := NewCamera(&fakeCapture{track: track}, FitFill)
	s := NewSurface(8, 8)

	if err := o.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	if live := s.LiveResources(); live != 1 {
		t.Fatalf("live resources = %d, want 1", live)
	}

	o.Frame(time.Now())

	if got := s.At(4, 4); got.R != 255 {
		t.Fatalf("center pixel = %v, want red", got)
	}

	o.Stop()

	if !track.Ended() {
		t.Fatal("capture track not ended after stop")
	}

	if live := s.LiveResources(); live != 0 {
		t.Fatalf("live resources after stop = %d, want 0", live)
	}
}

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:5.000,
seg0.ts
#EXTINF:5.000,
seg1.ts
#EXT-X-ENDLIST
`

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=800000
low.m3u8
#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=2400000
high.m3u8
`

// trackRecorder is a TrackOpener that journals every installed URL.
type trackRecorder struct {
	mu     sync.Mutex
	opened []string
	tracks []*fakeTrack
}

func (tr *trackRecorder) open(_ context.Context, info StreamInfo) (Track, error) {
	track := &fakeTrack{pic: redPicture(4, 4)}

	tr.mu.Lock()
	tr.opened = append(tr.opened, info.URL)
	tr.tracks = append(tr.tracks, track)
	tr.mu.Unlock()

	return track, nil
}

func (tr *trackRecorder) urls() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return append([]string(nil), tr.opened...)
}

func TestStreamPlaysMediaPlaylist(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist)
	}))
	t.Cleanup(srv.Close)

	rec := &trackRecorder{}
	o := NewStream(
		WithStreamClient(srv.Client()),
		WithStreamOpener(rec.open),
		WithStreamFit(FitFill),
	)

	s := NewSurface(8, 8)
	if err := o.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	o.Load(srv.URL + "/media.m3u8")

	testutil.Eventually(t, 2*time.Second, o.Playing, "stream never started playing")

	o.Frame(time.Now())

	if got := s.At(4, 4); got.R != 255 {
		t.Fatalf("center pixel = %v, want red", got)
	}

	if live := s.LiveResources(); live != 1 {
		t.Fatalf("live resources = %d, want 1", live)
	}
}

func TestStreamLoadSupersededByNewerLoad(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	handler := http.NewServeMux()

	handler.HandleFunc("/a.m3u8", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}

		_, _ = io.WriteString(w, mediaPlaylist)
	})
	handler.HandleFunc("/b.m3u8", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist)
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(gate) })

	rec := &trackRecorder{}
	o := NewStream(WithStreamClient(srv.Client()), WithStreamOpener(rec.open))

	s := NewSurface(8, 8)
	if err := o.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	o.Load(srv.URL + "/a.m3u8")
	o.Load(srv.URL + "/b.m3u8")

	testutil.Eventually(t, 2*time.Second, o.Playing, "second stream never started playing")

	if got, want := o.URL(), srv.URL+"/b.m3u8"; got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}

	urls := rec.urls()
	if len(urls) != 1 || !strings.HasSuffix(urls[0], "/b.m3u8") {
		t.Fatalf("installed streams = %v, want only /b.m3u8", urls)
	}

	if live := s.LiveResources(); live != 1 {
		t.Fatalf("live resources = %d, want 1", live)
	}
}

func TestStreamMasterPicksHighestBandwidth(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		fetched []string
	)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fetched = append(fetched, r.URL.Path)
		mu.Unlock()

		if r.URL.Path == "/master.m3u8" {
			_, _ = io.WriteString(w, masterPlaylist)
			return
		}

		_, _ = io.WriteString(w, mediaPlaylist)
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rec := &trackRecorder{}
	o := NewStream(WithStreamClient(srv.Client()), WithStreamOpener(rec.open))

	if err := o.Start(context.Background(), NewSurface(8, 8)); err != nil {
		t.Fatalf("start: %v", err)
	}

	o.Load(srv.URL + "/master.m3u8")

	testutil.Eventually(t, 2*time.Second, o.Playing, "stream never started playing")

	mu.Lock()
	defer mu.Unlock()

	var sawHigh, sawLow bool

	for _, p := range fetched {
		switch p {
		case "/high.m3u8":
			sawHigh = true
		case "/low.m3u8":
			sawLow = true
		}
	}

	if !sawHigh || sawLow {
		t.Fatalf("fetched %v, want the high-bandwidth variant only", fetched)
	}
}

func TestStreamLoadFailureReportsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	var (
		mu      sync.Mutex
		lastErr error
	)

	o := NewStream(
		WithStreamClient(srv.Client()),
		WithStreamFatal(func(err error) {
			mu.Lock()
			lastErr = err
			mu.Unlock()
		}),
	)

	if err := o.Start(context.Background(), NewSurface(8, 8)); err != nil {
		t.Fatalf("start: %v", err)
	}

	o.Load(srv.URL + "/gone.m3u8")

	testutil.Eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return errors.Is(lastErr, ErrStreamLoad)
	}, "fatal callback never fired")
}

func TestStreamStopDetachesTrack(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist)
	}))
	t.Cleanup(srv.Close)

	rec := &trackRecorder{}
	o := NewStream(WithStreamClient(srv.Client()), WithStreamOpener(rec.open))
	s := NewSurface(8, 8)

	if err := o.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	url := srv.URL + "/media.m3u8"
	o.Load(url)

	testutil.Eventually(t, 2*time.Second, o.Playing, "stream never started playing")

	o.Stop()

	rec.mu.Lock()
	track := rec.tracks[0]
	rec.mu.Unlock()

	if !track.Ended() {
		t.Fatal("track not ended after stop")
	}

	if live := s.LiveResources(); live != 0 {
		t.Fatalf("live resources = %d, want 0", live)
	}

	if got := o.URL(); got != url {
		t.Fatalf("url after stop = %q, want %q", got, url)
	}
}

func TestStreamLoadBeforeStartReplaysOnStart(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist)
	}))
	t.Cleanup(srv.Close)

	rec := &trackRecorder{}
	o := NewStream(WithStreamClient(srv.Client()), WithStreamOpener(rec.open))

	o.Load(srv.URL + "/media.m3u8")

	if o.Playing() {
		t.Fatal("stream playing before start")
	}

	if err := o.Start(context.Background(), NewSurface(8, 8)); err != nil {
		t.Fatalf("start: %v", err)
	}

	testutil.Eventually(t, 2*time.Second, o.Playing, "stream never started playing after start")
}
