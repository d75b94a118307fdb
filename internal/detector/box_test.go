package detector

import (
	"math"
	"testing"
)

func TestBoundingBox_IoU(t *testing.T) {
	tests := []struct {
		name string
		a, b BoundingBox
		want float64
	}{
		{"identical", BoundingBox{0, 0, 10, 10}, BoundingBox{0, 0, 10, 10}, 1},
		{"disjoint", BoundingBox{0, 0, 10, 10}, BoundingBox{20, 20, 10, 10}, 0},
		{"touching edges", BoundingBox{0, 0, 10, 10}, BoundingBox{10, 0, 10, 10}, 0},
		{"half overlap", BoundingBox{0, 0, 10, 10}, BoundingBox{5, 0, 10, 10}, 50.0 / 150.0},
		{"contained", BoundingBox{0, 0, 10, 10}, BoundingBox{0, 0, 5, 10}, 0.5},
		{"empty box", BoundingBox{0, 0, 0, 0}, BoundingBox{0, 0, 10, 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.IoU(tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("IoU() = %f, want %f", got, tt.want)
			}
			if back := tt.b.IoU(tt.a); math.Abs(back-got) > 1e-9 {
				t.Errorf("IoU is not symmetric: %f vs %f", got, back)
			}
		})
	}
}

func TestBoundingBox_Clip(t *testing.T) {
	tests := []struct {
		name string
		box  BoundingBox
		want BoundingBox
	}{
		{"inside", BoundingBox{10, 10, 20, 20}, BoundingBox{10, 10, 20, 20}},
		{"left edge", BoundingBox{-10, 10, 20, 20}, BoundingBox{0, 10, 10, 20}},
		{"bottom right", BoundingBox{90, 40, 20, 20}, BoundingBox{90, 40, 10, 10}},
		{"outside", BoundingBox{200, 200, 10, 10}, BoundingBox{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Clip(100, 50); got != tt.want {
				t.Errorf("Clip() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBoundingBox_Translate(t *testing.T) {
	tests := []struct {
		name   string
		box    BoundingBox
		dx, dy int
		want   BoundingBox
	}{
		{"inside", BoundingBox{10, 10, 20, 20}, 5, -5, BoundingBox{15, 5, 20, 20}},
		{"past right edge keeps size", BoundingBox{70, 10, 20, 20}, 30, 0, BoundingBox{80, 10, 20, 20}},
		{"past top edge keeps size", BoundingBox{10, 5, 20, 20}, 0, -30, BoundingBox{10, 0, 20, 20}},
		{"larger than frame is clipped", BoundingBox{0, 0, 150, 20}, 10, 0, BoundingBox{0, 0, 100, 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Translate(tt.dx, tt.dy, 100, 50); got != tt.want {
				t.Errorf("Translate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBoxFromCorners(t *testing.T) {
	got := BoxFromCorners(10.4, 20.6, 50.5, 60.2)
	want := BoundingBox{X: 10, Y: 21, Width: 41, Height: 39}
	if got != want {
		t.Errorf("BoxFromCorners() = %+v, want %+v", got, want)
	}
}

func TestNMS(t *testing.T) {
	t.Run("suppresses overlapping lower scores", func(t *testing.T) {
		dets := []Detection{
			{Box: BoundingBox{118, 100, 100, 100}, Score: 0.4},
			{Box: BoundingBox{100, 100, 100, 100}, Score: 0.9},
		}

		keep := NMS(dets, 0.5)
		if len(keep) != 1 || keep[0] != 1 {
			t.Errorf("NMS() = %v, want [1]", keep)
		}
	})

	t.Run("keeps disjoint boxes in score order", func(t *testing.T) {
		dets := []Detection{
			{Box: BoundingBox{0, 0, 10, 10}, Score: 0.5},
			{Box: BoundingBox{100, 0, 10, 10}, Score: 0.8},
			{Box: BoundingBox{200, 0, 10, 10}, Score: 0.6},
		}

		keep := NMS(dets, 0.5)
		want := []int{1, 2, 0}
		if len(keep) != len(want) {
			t.Fatalf("NMS() = %v, want %v", keep, want)
		}
		for i := range want {
			if keep[i] != want[i] {
				t.Errorf("NMS() = %v, want %v", keep, want)
				break
			}
		}
	})

	t.Run("equal scores keep input order", func(t *testing.T) {
		dets := []Detection{
			{Box: BoundingBox{0, 0, 10, 10}, Score: 0.7},
			{Box: BoundingBox{1, 0, 10, 10}, Score: 0.7},
		}

		keep := NMS(dets, 0.5)
		if len(keep) != 1 || keep[0] != 0 {
			t.Errorf("NMS() = %v, want [0]", keep)
		}
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		// IoU is exactly 0.5
		dets := []Detection{
			{Box: BoundingBox{0, 0, 10, 10}, Score: 0.9},
			{Box: BoundingBox{0, 0, 5, 10}, Score: 0.8},
		}

		if keep := NMS(dets, 0.5); len(keep) != 1 {
			t.Errorf("NMS() = %v, want one survivor", keep)
		}
	})

	t.Run("no pair of survivors overlaps at the threshold", func(t *testing.T) {
		var dets []Detection
		for i := 0; i < 20; i++ {
			dets = append(dets, Detection{
				Box:   BoundingBox{X: i * 7, Y: (i % 3) * 5, Width: 30, Height: 30},
				Score: float64(i%5) / 5,
			})
		}

		keep := NMS(dets, 0.4)
		for i := 0; i < len(keep); i++ {
			for j := i + 1; j < len(keep); j++ {
				if iou := dets[keep[i]].Box.IoU(dets[keep[j]].Box); iou >= 0.4 {
					t.Errorf("survivors %d and %d overlap with IoU %f", keep[i], keep[j], iou)
				}
			}
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if keep := NMS(nil, 0.5); len(keep) != 0 {
			t.Errorf("NMS(nil) = %v, want empty", keep)
		}
	})
}
