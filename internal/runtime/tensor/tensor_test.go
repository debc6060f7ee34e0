package tensor

import (
	"math"
	"strings"
	"testing"
)

func mustTensorT(t *testing.T, data []float32, shape []int64) *Tensor {
	t.Helper()

	tt, err := New(data, shape)
	if err != nil {
		t.Fatalf("New(%v): %v", shape, err)
	}

	return tt
}

func equalApprox(a, b []float32, tol float32) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if float32(math.Abs(float64(a[i]-b[i]))) > tol {
			return false
		}
	}

	return true
}

func assertErrContains(t *testing.T, err error, substr string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected error containing %q, got nil", substr)
	}

	if !strings.Contains(err.Error(), substr) {
		t.Fatalf("expected error containing %q, got %q", substr, err.Error())
	}
}

func TestNewShapeMismatch(t *testing.T) {
	_, err := New([]float32{1, 2, 3}, []int64{2, 2})
	assertErrContains(t, err, "does not match shape")
}

func TestNewNegativeDim(t *testing.T) {
	_, err := New(nil, []int64{2, -1})
	assertErrContains(t, err, "negative dimension")
}

func TestReshapePreservesData(t *testing.T) {
	src := mustTensorT(t, []float32{1, 2, 3, 4, 5, 6}, []int64{2, 3})

	got, err := src.Reshape([]int64{3, 2})
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}

	if !equalApprox(got.Data(), src.Data(), 0) {
		t.Fatalf("reshape changed data: %v", got.Data())
	}

	if got.Rank() != 2 || got.Shape()[0] != 3 {
		t.Fatalf("unexpected shape %v", got.Shape())
	}
}

func TestNarrow(t *testing.T) {
	src := mustTensorT(t, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, []int64{3, 3})

	tests := []struct {
		name      string
		dim       int
		start     int64
		length    int64
		wantData  []float32
		wantShape []int64
	}{
		{"middle rows", 0, 1, 2, []float32{4, 5, 6, 7, 8, 9}, []int64{2, 3}},
		{"first column", 1, 0, 1, []float32{1, 4, 7}, []int64{3, 1}},
		{"negative dim", -1, 1, 2, []float32{2, 3, 5, 6, 8, 9}, []int64{3, 2}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := src.Narrow(tc.dim, tc.start, tc.length)
			if err != nil {
				t.Fatalf("Narrow: %v", err)
			}

			if !sameShape(got.Shape(), tc.wantShape) {
				t.Fatalf("shape = %v, want %v", got.Shape(), tc.wantShape)
			}

			if !equalApprox(got.Data(), tc.wantData, 0) {
				t.Fatalf("data = %v, want %v", got.Data(), tc.wantData)
			}
		})
	}
}

func TestNarrowOutOfBounds(t *testing.T) {
	src := mustTensorT(t, []float32{1, 2, 3, 4}, []int64{2, 2})
	_, err := src.Narrow(0, 1, 2)
	assertErrContains(t, err, "out of bounds")
}

func TestGather(t *testing.T) {
	src := mustTensorT(t, []float32{
		10, 11,
		20, 21,
		30, 31,
	}, []int64{3, 2})

	got, err := src.Gather(0, []int64{2, 0, 2})
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	want := []float32{30, 31, 10, 11, 30, 31}
	if !equalApprox(got.Data(), want, 0) {
		t.Fatalf("data = %v, want %v", got.Data(), want)
	}
}

func TestGatherIndexOutOfRange(t *testing.T) {
	src := mustTensorT(t, []float32{1, 2}, []int64{2, 1})
	_, err := src.Gather(0, []int64{3})
	assertErrContains(t, err, "out of range")
}

func TestTransposeRoundTrip(t *testing.T) {
	src := mustTensorT(t, []float32{1, 2, 3, 4, 5, 6}, []int64{2, 3})

	tr, err := src.Transpose(0, 1)
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}

	want := []float32{1, 4, 2, 5, 3, 6}
	if !equalApprox(tr.Data(), want, 0) {
		t.Fatalf("transposed data = %v, want %v", tr.Data(), want)
	}

	back, err := tr.Transpose(0, 1)
	if err != nil {
		t.Fatalf("Transpose back: %v", err)
	}

	if !equalApprox(back.Data(), src.Data(), 0) {
		t.Fatalf("round trip changed data: %v", back.Data())
	}
}

func TestConcatAlongDims(t *testing.T) {
	a := mustTensorT(t, []float32{1, 2, 3, 4}, []int64{1, 2, 2})
	b := mustTensorT(t, []float32{5, 6, 7, 8}, []int64{1, 2, 2})

	seq, err := Concat([]*Tensor{a, b}, 1)
	if err != nil {
		t.Fatalf("Concat dim 1: %v", err)
	}

	wantSeq := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	if !equalApprox(seq.Data(), wantSeq, 0) {
		t.Fatalf("concat dim 1 = %v, want %v", seq.Data(), wantSeq)
	}

	feat, err := Concat([]*Tensor{a, b}, 2)
	if err != nil {
		t.Fatalf("Concat dim 2: %v", err)
	}

	wantFeat := []float32{1, 2, 5, 6, 3, 4, 7, 8}
	if !equalApprox(feat.Data(), wantFeat, 0) {
		t.Fatalf("concat dim 2 = %v, want %v", feat.Data(), wantFeat)
	}
}

func TestConcatShapeMismatch(t *testing.T) {
	a := mustTensorT(t, []float32{1, 2}, []int64{1, 2})
	b := mustTensorT(t, []float32{1, 2, 3}, []int64{1, 3})
	_, err := Concat([]*Tensor{a, b}, 0)
	assertErrContains(t, err, "does not match")
}

func TestBroadcastAdd(t *testing.T) {
	x := mustTensorT(t, []float32{1, 2, 3, 4, 5, 6}, []int64{2, 3})
	row := mustTensorT(t, []float32{10, 20, 30}, []int64{3})

	got, err := x.BroadcastAdd(row)
	if err != nil {
		t.Fatalf("BroadcastAdd: %v", err)
	}

	want := []float32{11, 22, 33, 14, 25, 36}
	if !equalApprox(got.Data(), want, 0) {
		t.Fatalf("data = %v, want %v", got.Data(), want)
	}
}

func TestBroadcastMulColumn(t *testing.T) {
	x := mustTensorT(t, []float32{1, 2, 3, 4}, []int64{2, 2})
	col := mustTensorT(t, []float32{10, 100}, []int64{2, 1})

	got, err := x.BroadcastMul(col)
	if err != nil {
		t.Fatalf("BroadcastMul: %v", err)
	}

	want := []float32{10, 20, 300, 400}
	if !equalApprox(got.Data(), want, 0) {
		t.Fatalf("data = %v, want %v", got.Data(), want)
	}
}

func TestBroadcastIncompatible(t *testing.T) {
	a := mustTensorT(t, []float32{1, 2, 3}, []int64{3})
	b := mustTensorT(t, []float32{1, 2}, []int64{2})
	_, err := a.BroadcastAdd(b)
	assertErrContains(t, err, "not broadcastable")
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	x := mustTensorT(t, []float32{1, 2, 3, -1, 0, 1}, []int64{2, 3})

	got, err := x.Softmax()
	if err != nil {
		t.Fatalf("Softmax: %v", err)
	}

	data := got.Data()
	for r := 0; r < 2; r++ {
		sum := float32(0)
		for c := 0; c < 3; c++ {
			sum += data[r*3+c]
		}

		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Fatalf("row %d sums to %v", r, sum)
		}
	}

	// Shift invariance of rows with the same relative logits.
	if !equalApprox(data[:3], data[3:], 1e-6) {
		t.Fatalf("shifted rows differ: %v vs %v", data[:3], data[3:])
	}
}

func TestSoftmaxLargeLogitsStable(t *testing.T) {
	x := mustTensorT(t, []float32{1000, 1001, 1002}, []int64{1, 3})

	got, err := x.Softmax()
	if err != nil {
		t.Fatalf("Softmax: %v", err)
	}

	for _, v := range got.Data() {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("softmax produced %v", got.Data())
		}
	}
}

func TestLayerNormZeroMeanUnitVar(t *testing.T) {
	x := mustTensorT(t, []float32{1, 2, 3, 4}, []int64{1, 4})

	got, err := x.LayerNorm(nil, nil, 1e-5)
	if err != nil {
		t.Fatalf("LayerNorm: %v", err)
	}

	data := got.Data()

	mean := float32(0)
	for _, v := range data {
		mean += v
	}

	if math.Abs(float64(mean/4)) > 1e-5 {
		t.Fatalf("mean = %v, want ~0", mean/4)
	}

	variance := float32(0)
	for _, v := range data {
		variance += v * v
	}

	if math.Abs(float64(variance/4-1)) > 1e-3 {
		t.Fatalf("variance = %v, want ~1", variance/4)
	}
}

func TestRMSNormUnitRMS(t *testing.T) {
	x := mustTensorT(t, []float32{3, -4, 5, -6}, []int64{1, 4})

	got, err := x.RMSNorm(nil, 1e-6)
	if err != nil {
		t.Fatalf("RMSNorm: %v", err)
	}

	sumSq := float64(0)
	for _, v := range got.Data() {
		sumSq += float64(v) * float64(v)
	}

	rms := math.Sqrt(sumSq / 4)
	if math.Abs(rms-1) > 1e-4 {
		t.Fatalf("rms = %v, want ~1", rms)
	}
}

func TestRMSNormKeepsSign(t *testing.T) {
	x := mustTensorT(t, []float32{-2, 2}, []int64{1, 2})

	got, err := x.RMSNorm(nil, 1e-6)
	if err != nil {
		t.Fatalf("RMSNorm: %v", err)
	}

	data := got.Data()
	if data[0] >= 0 || data[1] <= 0 {
		t.Fatalf("signs not preserved: %v", data)
	}
}

func TestRMSNormWeight(t *testing.T) {
	x := mustTensorT(t, []float32{1, 1}, []int64{1, 2})
	w := mustTensorT(t, []float32{2, 3}, []int64{2})

	got, err := x.RMSNorm(w, 0)
	if err != nil {
		t.Fatalf("RMSNorm: %v", err)
	}

	want := []float32{2, 3}
	if !equalApprox(got.Data(), want, 1e-5) {
		t.Fatalf("data = %v, want %v", got.Data(), want)
	}
}

func TestMatMul2D(t *testing.T) {
	a := mustTensorT(t, []float32{1, 2, 3, 4}, []int64{2, 2})
	b := mustTensorT(t, []float32{5, 6, 7, 8}, []int64{2, 2})

	got, err := a.MatMul(b)
	if err != nil {
		t.Fatalf("MatMul: %v", err)
	}

	want := []float32{19, 22, 43, 50}
	if !equalApprox(got.Data(), want, 1e-5) {
		t.Fatalf("data = %v, want %v", got.Data(), want)
	}
}

func TestMatMulBatched(t *testing.T) {
	a := mustTensorT(t, []float32{
		1, 0,
		0, 1,

		2, 0,
		0, 2,
	}, []int64{2, 2, 2})
	b := mustTensorT(t, []float32{
		1, 2,
		3, 4,

		1, 2,
		3, 4,
	}, []int64{2, 2, 2})

	got, err := a.MatMul(b)
	if err != nil {
		t.Fatalf("MatMul: %v", err)
	}

	want := []float32{1, 2, 3, 4, 2, 4, 6, 8}
	if !equalApprox(got.Data(), want, 1e-5) {
		t.Fatalf("data = %v, want %v", got.Data(), want)
	}
}

func TestMatMulInnerMismatch(t *testing.T) {
	a := mustTensorT(t, []float32{1, 2, 3}, []int64{1, 3})
	b := mustTensorT(t, []float32{1, 2, 3, 4}, []int64{2, 2})
	_, err := a.MatMul(b)
	assertErrContains(t, err, "inner dimensions")
}

func TestLinearMatchesManual(t *testing.T) {
	x := mustTensorT(t, []float32{1, 2, 3}, []int64{1, 3})
	w := mustTensorT(t, []float32{
		1, 0, 0,
		0, 1, 0,
		1, 1, 1,
		2, 0, 1,
	}, []int64{4, 3})
	bias := mustTensorT(t, []float32{10, 20, 30, 40}, []int64{4})

	got, err := x.Linear(w, bias)
	if err != nil {
		t.Fatalf("Linear: %v", err)
	}

	want := []float32{11, 22, 36, 45}
	if !equalApprox(got.Data(), want, 1e-5) {
		t.Fatalf("data = %v, want %v", got.Data(), want)
	}
}

func TestLinearWeightMismatch(t *testing.T) {
	x := mustTensorT(t, []float32{1, 2}, []int64{1, 2})
	w := mustTensorT(t, []float32{1, 2, 3}, []int64{1, 3})
	_, err := x.Linear(w, nil)
	assertErrContains(t, err, "does not match input width")
}

func TestDotProduct(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"empty", nil, nil, 0},
		{"short", []float32{1, 2}, []float32{3, 4}, 11},
		{"unrolled", []float32{1, 2, 3, 4, 5}, []float32{5, 4, 3, 2, 1}, 35},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DotProduct(tc.a, tc.b); math.Abs(float64(got-tc.want)) > 1e-5 {
				t.Fatalf("DotProduct = %v, want %v", got, tc.want)
			}
		})
	}
}
