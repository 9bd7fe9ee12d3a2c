// Package xslices holds generic slice helpers not found in the standard
// slices package.
package xslices

import (
	"runtime"
	"sync"

	"golang.org/x/exp/constraints"
)

// Map applies fn to each element of in, returning the new slice.
func Map[In, Out any](in []In, fn func(In) Out) []Out {
	out := make([]Out, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

// MapParallel is Map with fn applied concurrently, one goroutine per CPU.
// fn must be safe to call concurrently.
func MapParallel[In, Out any](in []In, fn func(In) Out) []Out {
	out := make([]Out, len(in))
	workers := min(runtime.NumCPU(), len(in))
	if workers <= 1 {
		return Map(in, fn)
	}
	var wg sync.WaitGroup
	chunk := (len(in) + workers - 1) / workers
	for start := 0; start < len(in); start += chunk {
		end := min(start+chunk, len(in))
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				out[i] = fn(in[i])
			}
		}(start, end)
	}
	wg.Wait()
	return out
}

// At returns the i-th element; negative i counts from the end, so At(s, -1)
// is the last element.
func At[T any](slice []T, i int) T {
	if i < 0 {
		i += len(slice)
	}
	return slice[i]
}

// Last returns the last element.
func Last[T any](slice []T) T {
	return slice[len(slice)-1]
}

// SetAt sets the i-th element; negative i counts from the end.
func SetAt[T any](slice []T, i int, value T) {
	if i < 0 {
		i += len(slice)
	}
	slice[i] = value
}

// Pop removes and returns the last element; returns the shortened slice.
func Pop[T any](slice []T) (T, []T) {
	last := len(slice) - 1
	return slice[last], slice[:last]
}

// Fill sets every element to value.
func Fill[T any](slice []T, value T) {
	for i := range slice {
		slice[i] = value
	}
}

// Iota returns a slice [start, start+1, ..., start+len-1].
func Iota[T constraints.Integer | constraints.Float](start T, len int) []T {
	out := make([]T, len)
	for i := range out {
		out[i] = start + T(i)
	}
	return out
}
