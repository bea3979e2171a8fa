package rng

import "testing"

func TestUniform_Range(t *testing.T) {
	t.Parallel()
	r := New(42)
	for i := 0; i < 10000; i++ {
		v := r.Uniform(-2, 3)
		if v < -2 || v >= 3 {
			t.Fatalf("Uniform(-2,3) = %v out of range", v)
		}
	}
	if got := r.Uniform(1, 1); got != 1 {
		t.Errorf("Uniform(1,1) = %v, want 1", got)
	}
}

func TestUniformIndex_CoversAll(t *testing.T) {
	t.Parallel()
	r := New(7)
	seen := make([]bool, 5)
	for i := 0; i < 1000; i++ {
		seen[r.UniformIndex(5)] = true
	}
	for i, ok := range seen {
		if !ok {
			t.Errorf("index %d never drawn", i)
		}
	}
}

func TestCoin_Balanced(t *testing.T) {
	t.Parallel()
	r := New(11)
	heads := 0
	const n = 20000
	for i := 0; i < n; i++ {
		if r.Coin() {
			heads++
		}
	}
	if heads < n*45/100 || heads > n*55/100 {
		t.Errorf("heads = %d of %d, expected near half", heads, n)
	}
}

func TestNew_SameSeedSameStream(t *testing.T) {
	t.Parallel()
	a, b := New(99), New(99)
	for i := 0; i < 100; i++ {
		if a.Uniform(0, 1) != b.Uniform(0, 1) {
			t.Fatal("streams diverged for identical seeds")
		}
	}
}
