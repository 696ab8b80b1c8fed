package utils

import (
	"errors"
	"runtime"
	"testing"
)

// caller reports the file and line of the test that called the assertion
func caller() (string, int) {
	pc, _, _, _ := runtime.Caller(2)
	return runtime.FuncForPC(pc).FileLine(pc)
}

// Test helper
func Assert(t *testing.T, predicate bool, msg string) {
	if !predicate {
		file, line := caller()
		t.Errorf(msg+" in %s:%d", file, line)
	}
}

func AssertEqual[T comparable](t *testing.T, a T, b T) {
	if a != b {
		file, line := caller()
		t.Errorf("Expected %v == %v (%T) in %s:%d", a, b, a, file, line)
	}
}

func AssertNotEqual[T comparable](t *testing.T, a T, b T) {
	if a == b {
		file, line := caller()
		t.Errorf("Expected %v != %v (%T) in %s:%d", a, b, a, file, line)
	}
}

// Assert that error is nil
func AssertNoError(t *testing.T, err error) {
	if err != nil {
		file, line := caller()
		t.Errorf("Expected no error, got '%v' in %s:%d", err, file, line)
	}
}

// Assert that an error is not nil
func AssertError(t *testing.T, err error) {
	if err == nil {
		file, line := caller()
		t.Errorf("Expected error, got '%v' in %s:%d", err, file, line)
	}
}

// Assert that err matches target somewhere in its chain
func AssertErrorIs(t *testing.T, err error, target error) {
	if !errors.Is(err, target) {
		file, line := caller()
		t.Errorf("Expected error matching '%v', got '%v' in %s:%d", target, err, file, line)
	}
}

// AssertErrorAs unwraps err into an E, failing the test when there is none.
func AssertErrorAs[E error](t *testing.T, err error) E {
	var target E
	if !errors.As(err, &target) {
		file, line := caller()
		t.Fatalf("Expected error of type %T, got '%v' in %s:%d", target, err, file, line)
	}
	return target
}

func AssertEqualWithComparator[T any](t *testing.T, a T, b T, comparator func(T, T) bool) {
	if !comparator(a, b) {
		file, line := caller()
		t.Errorf("Expected %v == %v (%T) in %s:%d", a, b, a, file, line)
	}
}

func CompareArrays[T comparable](a []T, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func CompareMaps[T comparable, V comparable](a map[T]V, b map[T]V) bool {
	if len(a) != len(b) {
		return false
	}
	// same length, so checking a's keys in b is enough
	for k, va := range a {
		vb, ok := b[k]
		if !ok || va != vb {
			return false
		}
	}
	return true
}

func AssertEqualArrays[T comparable](t *testing.T, a []T, b []T) {
	if !CompareArrays(a, b) {
		file, line := caller()
		t.Errorf("Expected %v == %v (%T) in %s:%d", a, b, a, file, line)
	}
}

func AssertEqualMaps[T comparable, V comparable](t *testing.T, a map[T]V, b map[T]V) {
	if !CompareMaps(a, b) {
		file, line := caller()
		t.Errorf("Expected %v == %v (%T) in %s:%d", a, b, a, file, line)
	}
}
