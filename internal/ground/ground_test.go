package ground

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/geoanchor/obj2kmz/internal/mesh"
)

func heightsOnly(zs ...float64) []mesh.Vertex {
	out := make([]mesh.Vertex, len(zs))
	for i, z := range zs {
		out[i] = mesh.Vertex{X: float64(i), Y: float64(i % 7), Z: z}
	}
	return out
}

func TestPercentile(t *testing.T) {
	grid := make([]float64, 100)
	for i := range grid {
		grid[i] = float64(99 - i)
	}

	cases := []struct {
		name string
		p    float64
		zs   []float64
		want float64
	}{
		{name: "default on 0..99", p: 0, zs: grid, want: 29},
		{name: "explicit 30 on 0..99", p: 30, zs: grid, want: 29},
		{name: "median", p: 50, zs: grid, want: 49},
		{name: "max", p: 100, zs: grid, want: 99},
		{name: "single vertex", p: 30, zs: []float64{12.5}, want: 12.5},
		{name: "all equal", p: 30, zs: []float64{-4, -4, -4, -4}, want: -4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			est, err := NewPercentile(tc.p)
			if err != nil {
				t.Fatalf("NewPercentile: %v", err)
			}
			res, err := est.Estimate(context.Background(), heightsOnly(tc.zs...))
			if err != nil {
				t.Fatalf("Estimate: %v", err)
			}
			if res.Offset != tc.want {
				t.Fatalf("offset %v, want %v", res.Offset, tc.want)
			}
			if res.Plane != nil || res.Degenerate {
				t.Fatalf("percentile must not report a plane: %+v", res)
			}
		})
	}
}

func TestPercentileRejectsOutOfRange(t *testing.T) {
	for _, p := range []float64{-1, 100.5, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := NewPercentile(p); err == nil {
			t.Errorf("NewPercentile(%v) accepted", p)
		}
	}
}

func TestEstimatorsRejectEmpty(t *testing.T) {
	for _, strategy := range []string{StrategyPercentile, StrategyRANSAC, StrategyHistogram} {
		cfg := DefaultConfig()
		cfg.Strategy = strategy
		cfg.Seed = 1
		est, err := New(cfg)
		if err != nil {
			t.Fatalf("%s: %v", strategy, err)
		}
		if _, err := est.Estimate(context.Background(), nil); !errors.Is(err, ErrNoVertices) {
			t.Errorf("%s: got %v, want ErrNoVertices", strategy, err)
		}
	}
}

func TestEstimatorsRejectNonFinite(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		vertices := []mesh.Vertex{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 1}, {X: 0, Y: 1, Z: bad}, {X: 1, Y: 1, Z: 2}}
		for _, strategy := range []string{StrategyPercentile, StrategyRANSAC, StrategyHistogram} {
			cfg := DefaultConfig()
			cfg.Strategy = strategy
			cfg.Seed = 1
			est, err := New(cfg)
			if err != nil {
				t.Fatalf("%s: %v", strategy, err)
			}
			if _, err := est.Estimate(context.Background(), vertices); !errors.Is(err, ErrNonFinite) {
				t.Errorf("%s with %v: got %v, want ErrNonFinite", strategy, bad, err)
			}
		}
	}
}

func TestPlaneFitRejectsBadThreshold(t *testing.T) {
	for _, th := range []float64{-0.1, math.NaN(), math.Inf(1)} {
		if _, err := NewPlaneFit(th, 10, 1); err == nil {
			t.Errorf("NewPlaneFit(%v) accepted", th)
		}
	}
}

// plane returns an n x n grid on z = slopeX*x + slopeY*y + z0, plus a few
// outliers well above it.
func plane(n int, slopeX, slopeY, z0 float64) []mesh.Vertex {
	var pts []mesh.Vertex
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x, y := float64(i), float64(j)
			pts = append(pts, mesh.Vertex{X: x, Y: y, Z: slopeX*x + slopeY*y + z0})
		}
	}
	for i := 0; i < n; i++ {
		pts = append(pts, mesh.Vertex{X: float64(i), Y: float64(i), Z: z0 + 25 + float64(i)})
	}
	return pts
}

func TestPlaneFitHorizontal(t *testing.T) {
	est, err := NewPlaneFit(0.05, 500, 42)
	if err != nil {
		t.Fatal(err)
	}
	pts := plane(10, 0, 0, 12.75)
	res, err := est.Estimate(context.Background(), pts)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if math.Abs(res.Offset-12.75) > 1e-6 {
		t.Fatalf("offset %v, want 12.75", res.Offset)
	}
	if res.Degenerate {
		t.Fatal("horizontal plane reported degenerate")
	}
	if len(res.Inliers) != 100 {
		t.Fatalf("%d inliers, want 100", len(res.Inliers))
	}
	if res.Plane == nil || res.Plane.C < 0.999 {
		t.Fatalf("normal not vertical: %+v", res.Plane)
	}
}

func TestPlaneFitTilted(t *testing.T) {
	est, err := NewPlaneFit(0.05, 500, 7)
	if err != nil {
		t.Fatal(err)
	}
	res, err := est.Estimate(context.Background(), plane(12, 0.2, -0.1, -3))
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if math.Abs(res.Offset-(-3)) > 1e-6 {
		t.Fatalf("offset %v, want -3", res.Offset)
	}
	p := res.Plane
	if p.C <= 0 {
		t.Fatalf("normal not oriented upward: %+v", p)
	}
	if math.Abs(p.A/p.C+0.2) > 1e-6 || math.Abs(p.B/p.C-0.1) > 1e-6 {
		t.Fatalf("unexpected slope: %+v", p)
	}
}

func TestPlaneFitVerticalFallsBackToMeanHeight(t *testing.T) {
	// All points on the plane x = 5.
	var pts []mesh.Vertex
	for y := 0; y < 8; y++ {
		for z := 0; z < 5; z++ {
			pts = append(pts, mesh.Vertex{X: 5, Y: float64(y), Z: float64(z)})
		}
	}
	est, err := NewPlaneFit(0.01, 200, 3)
	if err != nil {
		t.Fatal(err)
	}
	res, err := est.Estimate(context.Background(), pts)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if !res.Degenerate {
		t.Fatalf("expected degenerate result, got %+v", res)
	}
	if math.Abs(res.Offset-2) > 1e-9 {
		t.Fatalf("offset %v, want mean height 2", res.Offset)
	}
}

func TestPlaneFitIsReproducibleWithSeed(t *testing.T) {
	pts := plane(9, 0.05, 0.05, 1)
	a, _ := NewPlaneFit(0.5, 50, 99)
	b, _ := NewPlaneFit(0.5, 50, 99)
	ra, err := a.Estimate(context.Background(), pts)
	if err != nil {
		t.Fatal(err)
	}
	rb, err := b.Estimate(context.Background(), pts)
	if err != nil {
		t.Fatal(err)
	}
	if ra.Offset != rb.Offset {
		t.Fatalf("same seed gave %v and %v", ra.Offset, rb.Offset)
	}
}

func TestPlaneFitFailures(t *testing.T) {
	est, _ := NewPlaneFit(0, 0, 1)
	if _, err := est.Estimate(context.Background(), heightsOnly(1, 2)); err == nil {
		t.Error("two vertices accepted")
	}

	collinear := []mesh.Vertex{{X: 0}, {X: 1}, {X: 2}, {X: 3}}
	if _, err := est.Estimate(context.Background(), collinear); !errors.Is(err, ErrNoPlane) {
		t.Errorf("collinear: got %v, want ErrNoPlane", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := est.Estimate(ctx, plane(4, 0, 0, 0)); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: got %v", err)
	}

	if _, err := NewPlaneFit(-1, 10, 1); err == nil {
		t.Error("negative threshold accepted")
	}
}

func TestHistogram(t *testing.T) {
	// A sparse low tail under a dense ground band at 10..11.
	var zs []float64
	zs = append(zs, 0)
	for i := 0; i < 200; i++ {
		zs = append(zs, 10+float64(i%10)/10)
	}
	for i := 0; i < 30; i++ {
		zs = append(zs, 20)
	}
	est := NewHistogram(20)
	res, err := est.Estimate(context.Background(), heightsOnly(zs...))
	if err != nil {
		t.Fatal(err)
	}
	if res.Offset != 10 {
		t.Fatalf("offset %v, want 10", res.Offset)
	}

	flat, _ := est.Estimate(context.Background(), heightsOnly(3, 3, 3))
	if flat.Offset != 3 {
		t.Fatalf("flat offset %v, want 3", flat.Offset)
	}
}

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		strategy string
		want     string
	}{
		{"", StrategyPercentile},
		{"Percentile", StrategyPercentile},
		{"RANSAC", StrategyRANSAC},
		{"histogram", StrategyHistogram},
	} {
		est, err := New(Config{Strategy: tc.strategy, Seed: 1})
		if err != nil {
			t.Fatalf("%q: %v", tc.strategy, err)
		}
		if est.Name() != tc.want {
			t.Errorf("%q: got %s, want %s", tc.strategy, est.Name(), tc.want)
		}
	}
	if _, err := New(Config{Strategy: "median"}); err == nil {
		t.Error("unknown strategy accepted")
	}
}
