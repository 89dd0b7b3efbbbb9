package db

import (
	"math"
	"testing"
)

func TestVectorLiteral(t *testing.T) {
	t.Parallel()

	got, err := VectorLiteral([]float64{0.5, -1, 0.125})
	if err != nil {
		t.Fatalf("VectorLiteral() error = %v", err)
	}
	if got != "[0.5,-1,0.125]" {
		t.Fatalf("VectorLiteral() = %q", got)
	}
}

func TestVectorLiteralRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	if _, err := VectorLiteral(nil); err == nil {
		t.Fatalf("expected error for empty vector")
	}
	if _, err := VectorLiteral([]float64{1, math.NaN()}); err == nil {
		t.Fatalf("expected error for NaN")
	}
	if _, err := VectorLiteral([]float64{math.Inf(1)}); err == nil {
		t.Fatalf("expected error for Inf")
	}
}
