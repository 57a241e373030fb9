// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package utils

// Coalesce returns the first non-zero value, or the zero value when every
// argument is zero.
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// CoalesceString returns the first non-empty string from the given arguments.
func CoalesceString(values ...string) string {
	return Coalesce(values...)
}
