package render

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grafov/m3u8"
)

// ErrStreamLoad reports that a stream URL could not be resolved to playable
// media.
var ErrStreamLoad = errors.New("stream load failed")

const streamFetchTimeout = 10 * time.Second

// StreamInfo is what the loader resolves from a stream URL before playback
// starts: either a parsed HLS media playlist or a direct media URL.
type StreamInfo struct {
	URL      string
	Live     bool
	Target   time.Duration
	Segments []string
}

// TrackOpener turns resolved stream info into a playing track. Segment
// decoding lives behind this contract; the default opener renders a test
// pattern keyed on the URL.
type TrackOpener func(ctx context.Context, info StreamInfo) (Track, error)

// StreamOption configures a StreamOwner.
type StreamOption func(*StreamOwner)

// WithStreamLogger routes stream logging through log.
func WithStreamLogger(log *slog.Logger) StreamOption {
	return func(o *StreamOwner) {
		if log != nil {
			o.log = log
		}
	}
}

// WithStreamClient substitutes the HTTP client used for manifest fetches.
func WithStreamClient(c *http.Client) StreamOption {
	return func(o *StreamOwner) {
		if c != nil {
			o.client = c
		}
	}
}

// WithStreamOpener substitutes the track opener.
func WithStreamOpener(open TrackOpener) StreamOption {
	return func(o *StreamOwner) {
		if open != nil {
			o.open = open
		}
	}
}

// WithStreamFit sets the fit mode.
func WithStreamFit(fit Fit) StreamOption {
	return func(o *StreamOwner) { o.fit = fit }
}

// WithStreamFatal installs a callback invoked when the current stream fails
// to load or dies mid-play.
func WithStreamFatal(fn func(error)) StreamOption {
	return func(o *StreamOwner) { o.onFatal = fn }
}

// StreamOwner renders a network video stream. HLS playlists (master and
// media) are resolved with one level of indirection; other URLs play
// directly. Loads run asynchronously: a newer Load, a Stop, or dismissal by
// the multiplexer destroys the in-flight loader, detaches the previous
// track, and only the newest request ever reaches the surface.
type StreamOwner struct {
	log     *slog.Logger
	client  *http.Client
	open    TrackOpener
	fit     Fit
	onFatal func(error)

	mu         sync.Mutex
	ctx        context.Context
	surface    *Surface
	url        string
	gen        uint64
	loadCancel context.CancelFunc
	track      Track
	consumer   *Resource
	filter     Filter
	zoom       float64
}

// NewStream creates a stream owner with no URL loaded.
func NewStream(opts ...StreamOption) *StreamOwner {
	o := &StreamOwner{
		log:    slog.Default(),
		client: &http.Client{Timeout: streamFetchTimeout},
		fit:    FitCover,
		filter: NeutralFilter(),
		zoom:   1,
	}
	o.open = o.openSynthetic

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Kind implements Owner.
func (o *StreamOwner) Kind() Kind { return KindVideoStream }

// Start implements Owner. A URL loaded before the owner was started begins
// loading now; Start itself never blocks on the network.
func (o *StreamOwner) Start(ctx context.Context, s *Surface) error {
	o.mu.Lock()
	o.ctx = ctx
	o.surface = s
	pending := o.url
	o.mu.Unlock()

	if pending != "" {
		o.Load(pending)
	}

	return nil
}

// Load requests playback of rawURL. Any in-flight load is destroyed and the
// currently playing track is detached first; when two loads race, only the
// most recent one is ever rendered.
func (o *StreamOwner) Load(rawURL string) {
	o.mu.Lock()

	o.gen++
	gen := o.gen
	o.url = rawURL

	o.cancelLoadLocked()
	o.detachLocked()

	ctx := o.ctx
	if ctx == nil {
		// Not started yet; Start replays the URL.
		o.mu.Unlock()
		return
	}

	loadCtx, cancel := context.WithCancel(ctx)
	o.loadCancel = cancel
	o.mu.Unlock()

	go o.loadLoop(loadCtx, gen, rawURL)
}

// URL returns the most recently requested stream URL.
func (o *StreamOwner) URL() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.url
}

// Playing reports whether a track is attached and rendering.
func (o *StreamOwner) Playing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.track != nil
}

func (o *StreamOwner) loadLoop(ctx context.Context, gen uint64, rawURL string) {
	info, err := o.resolve(ctx, rawURL)
	if err == nil {
		var track Track

		track, err = o.open(ctx, info)
		if err == nil {
			if o.install(gen, track) {
				o.log.Info("render: stream playing", "url", rawURL, "live", info.Live)
			} else {
				track.Stop()
			}

			return
		}
	}

	if ctx.Err() != nil {
		o.log.Debug("render: stream load cancelled", "url", rawURL)
		return
	}

	o.log.Warn("render: stream load failed", "url", rawURL, "err", err)
	o.fatal(gen, fmt.Errorf("render: %w: %v", ErrStreamLoad, err))
}

// install attaches the loaded track unless a newer load superseded this one.
func (o *StreamOwner) install(gen uint64, track Track) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if gen != o.gen || o.surface == nil {
		return false
	}

	o.track = track
	o.consumer = o.surface.Allocate("streamConsumer")

	return true
}

// fatal reports a load failure upstream. Only the newest load of a session
// that is still started may fire; dismissal cancels the loader, and anything
// slipping past that cancel is dropped here.
func (o *StreamOwner) fatal(gen uint64, err error) {
	o.mu.Lock()
	current := gen == o.gen && o.ctx != nil
	fn := o.onFatal
	o.mu.Unlock()

	if current && fn != nil {
		fn(err)
	}
}

// resolve classifies the URL and, for HLS playlists, fetches and parses the
// manifest. Master playlists follow the highest-bandwidth variant.
func (o *StreamOwner) resolve(ctx context.Context, rawURL string) (StreamInfo, error) {
	if !isPlaylistURL(rawURL) {
		return StreamInfo{URL: rawURL, Live: true}, nil
	}

	return o.fetchPlaylist(ctx, rawURL, 1)
}

func (o *StreamOwner) fetchPlaylist(ctx context.Context, rawURL string, depth int) (StreamInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("render: stream request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("render: stream fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StreamInfo{}, fmt.Errorf("render: stream fetch %s: status %d", rawURL, resp.StatusCode)
	}

	playlist, listType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("render: parse playlist: %w", err)
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("render: stream url: %w", err)
	}

	switch listType {
	case m3u8.MEDIA:
		media, ok := playlist.(*m3u8.MediaPlaylist)
		if !ok {
			return StreamInfo{}, errors.New("render: unexpected playlist type")
		}

		info := StreamInfo{
			URL:    rawURL,
			Live:   !media.Closed,
			Target: time.Duration(media.TargetDuration * float64(time.Second)),
		}

		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}

			info.Segments = append(info.Segments, resolveRef(base, seg.URI))
		}

		if len(info.Segments) == 0 {
			return StreamInfo{}, errors.New("render: empty media playlist")
		}

		return info, nil

	case m3u8.MASTER:
		master, ok := playlist.(*m3u8.MasterPlaylist)
		if !ok {
			return StreamInfo{}, errors.New("render: unexpected playlist type")
		}

		if depth <= 0 {
			return StreamInfo{}, errors.New("render: nested master playlist")
		}

		variant := bestVariant(master.Variants)
		if variant == nil {
			return StreamInfo{}, errors.New("render: master playlist has no variants")
		}

		return o.fetchPlaylist(ctx, resolveRef(base, variant.URI), depth-1)
	}

	return StreamInfo{}, errors.New("render: unrecognized playlist")
}

// React implements Reactive.
func (o *StreamOwner) React(f Filter, zoom float64) {
	o.mu.Lock()
	o.filter = f
	o.zoom = zoom
	o.mu.Unlock()
}

// Frame implements Owner.
func (o *StreamOwner) Frame(now time.Time) {
	o.mu.Lock()
	surface := o.surface
	track := o.track
	fit := o.fit
	filter := o.filter
	zoom := o.zoom
	o.mu.Unlock()

	if surface == nil || track == nil {
		return
	}

	pic, ok := track.Read(now)
	if !ok {
		return
	}

	w, h := surface.Size()
	dst := FitRect(fit, pic.W, pic.H, w, h).Scaled(zoom)

	surface.SetFilter(filter)
	surface.Blit(pic.Pix, pic.W, pic.H, dst)
}

// Stop implements Owner. The in-flight loader is destroyed and the track
// detached; the requested URL survives for the next Start.
func (o *StreamOwner) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cancelLoadLocked()
	o.detachLocked()
	o.surface = nil
	o.ctx = nil
}

func (o *StreamOwner) cancelLoadLocked() {
	if o.loadCancel != nil {
		o.loadCancel()
		o.loadCancel = nil
	}
}

func (o *StreamOwner) detachLocked() {
	if o.track != nil {
		o.track.Stop()
		o.track = nil
	}

	o.consumer.Release()
	o.consumer = nil
}

func (o *StreamOwner) openSynthetic(_ context.Context, info StreamInfo) (Track, error) {
	return newSyntheticTrack(info.URL), nil
}

func isPlaylistURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	ext := strings.ToLower(path.Ext(u.Path))

	return ext == ".m3u8" || ext == ".m3u"
}

func resolveRef(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}

	return base.ResolveReference(u).String()
}

func bestVariant(variants []*m3u8.Variant) *m3u8.Variant {
	var best *m3u8.Variant

	for _, v := range variants {
		if v == nil {
			continue
		}

		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}

	return best
}

// syntheticTrack is the stand-in video source used when no decoder is
// wired: a static color-bar pattern keyed on the stream URL.
type syntheticTrack struct {
	pix     []byte
	w, h    int
	stopped atomic.Bool
}

func newSyntheticTrack(seed string) *syntheticTrack {
	const w, h = 320, 180

	hash := fnv.New32a()
	_, _ = hash.Write([]byte(seed))
	baseHue := float64(hash.Sum32() % 360)

	t := &syntheticTrack{pix: make([]byte, w*h*4), w: w, h: h}

	const bars = 8

	barW := w / bars

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := HSV(baseHue+float64(x/barW)*45, 0.8, 0.9)
			p := (y*w + x) * 4
			t.pix[p] = c.R
			t.pix[p+1] = c.G
			t.pix[p+2] = c.B
			t.pix[p+3] = 255
		}
	}

	return t
}

func (t *syntheticTrack) Read(time.Time) (Picture, bool) {
	if t.stopped.Load() {
		return Picture{}, false
	}

	return Picture{Pix: t.pix, W: t.w, H: t.h}, true
}

func (t *syntheticTrack) Stop() { t.stopped.Store(true) }

func (t *syntheticTrack) Ended() bool { return t.stopped.Load() }
