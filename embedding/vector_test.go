package embedding

import (
	"math"
	"testing"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	v := Vector{0.1, -0.2, 3.14159, float32(math.MaxFloat32), 0, -0}

	got := Deserialize(Serialize(v))
	if len(got) != len(v) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("index %d: got %v, want %v", i, got[i], v[i])
		}
	}
}

func TestDeserializeEmpty(t *testing.T) {
	if got := Deserialize(nil); len(got) != 0 {
		t.Fatalf("Deserialize(nil) = %v, want empty", got)
	}
}
