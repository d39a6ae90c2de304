// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertMatrixEqual fails unless got and want have identical shape and
// bit-identical elements.
func AssertMatrixEqual(t testing.TB, got, want mat.Matrix) {
	t.Helper()
	if !mat.Equal(got, want) {
		t.Errorf("matrix mismatch\ngot:\n%v\nwant:\n%v",
			mat.Formatted(got, mat.Squeeze()), mat.Formatted(want, mat.Squeeze()))
	}
}

// AssertMatrixApprox fails unless got and want match element-wise within tol.
func AssertMatrixApprox(t testing.TB, got, want mat.Matrix, tol float64) {
	t.Helper()
	if !mat.EqualApprox(got, want, tol) {
		t.Errorf("matrix mismatch (tol %g)\ngot:\n%v\nwant:\n%v", tol,
			mat.Formatted(got, mat.Squeeze()), mat.Formatted(want, mat.Squeeze()))
	}
}

// AssertVecApprox fails unless every component of got is within tol of want.
func AssertVecApprox(t testing.TB, got, want r3.Vec, tol float64) {
	t.Helper()
	if math.Abs(got.X-want.X) > tol || math.Abs(got.Y-want.Y) > tol || math.Abs(got.Z-want.Z) > tol {
		t.Errorf("vector = %+v, want %+v (tol %g)", got, want, tol)
	}
}
