package knowledge

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"empty", nil, nil, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-6 {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVectorCodecRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3.14159, 0, math.MaxFloat32}
	got := DecodeVector(EncodeVector(v))
	if len(got) != len(v) {
		t.Fatalf("length changed: %d != %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("element %d: got %v, want %v", i, got[i], v[i])
		}
	}
}

func TestDecodeVectorIgnoresTrailingBytes(t *testing.T) {
	buf := append(EncodeVector([]float32{1, 2}), 0xFF, 0x01)
	got := DecodeVector(buf)
	if len(got) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(got))
	}
}
