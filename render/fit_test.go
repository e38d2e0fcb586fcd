package render

import "testing"

func TestParseFitFallsBackToCover(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Fit
	}{
		{"cover", FitCover},
		{"contain", FitContain},
		{"fill", FitFill},
		{"", FitCover},
		{"stretch", FitCover},
	}

	for _, tc := range cases {
		if got := ParseFit(tc.in); got != tc.want {
			t.Fatalf("ParseFit(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFitString(t *testing.T) {
	t.Parallel()

	for _, mode := range []Fit{FitCover, FitContain, FitFill} {
		if got := ParseFit(mode.String()); got != mode {
			t.Fatalf("round trip %v via %q = %v", mode, mode.String(), got)
		}
	}
}

func TestFitCoverEqualsContainAtEqualAspect(t *testing.T) {
	t.Parallel()

	cover := FitRect(FitCover, 160, 90, 320, 180)
	contain := FitRect(FitContain, 160, 90, 320, 180)

	if cover != contain {
		t.Fatalf("cover = %+v, contain = %+v, want identical at equal aspect", cover, contain)
	}
}

func TestFitRect(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		mode       Fit
		srcW, srcH int
		dstW, dstH int
		want       Rect
	}{
		{
			name: "cover crops wide source",
			mode: FitCover, srcW: 400, srcH: 200, dstW: 200, dstH: 200,
			want: Rect{X: -100, Y: 0, W: 400, H: 200},
		},
		{
			name: "cover crops tall destination",
			mode: FitCover, srcW: 100, srcH: 100, dstW: 200, dstH: 100,
			want: Rect{X: 0, Y: -50, W: 200, H: 200},
		},
		{
			name: "contain letterboxes wide source",
			mode: FitContain, srcW: 400, srcH: 200, dstW: 200, dstH: 200,
			want: Rect{X: 0, Y: 50, W: 200, H: 100},
		},
		{
			name: "contain pillarboxes square source",
			mode: FitContain, srcW: 100, srcH: 100, dstW: 200, dstH: 100,
			want: Rect{X: 50, Y: 0, W: 100, H: 100},
		},
		{
			name: "fill stretches",
			mode: FitFill, srcW: 400, srcH: 200, dstW: 200, dstH: 200,
			want: Rect{X: 0, Y: 0, W: 200, H: 200},
		},
		{
			name: "degenerate source collapses to fill",
			mode: FitCover, srcW: 0, srcH: 200, dstW: 200, dstH: 200,
			want: Rect{X: 0, Y: 0, W: 200, H: 200},
		},
		{
			name: "matching aspect is exact",
			mode: FitCover, srcW: 160, srcH: 90, dstW: 320, dstH: 180,
			want: Rect{X: 0, Y: 0, W: 320, H: 180},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := FitRect(tc.mode, tc.srcW, tc.srcH, tc.dstW, tc.dstH)
			if got != tc.want {
				t.Fatalf("FitRect = %+v, want %+v", got, tc.want)
			}
		})
	}
}
