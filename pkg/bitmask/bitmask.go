// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package bitmask provides set operations over named integer flag types.
//
// A flag type is any unsigned integer type whose named constants each occupy
// a single bit:
//
//	type Flag uint32
//
//	const (
//		FlagA Flag = 1 << iota
//		FlagB
//	)
//
//	mask := bitmask.Set(Flag(0), FlagA)
//	bitmask.Has(mask, FlagA) // true
package bitmask

import "math/bits"

// Flag is the constraint satisfied by flag types.
type Flag interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Has reports whether every bit of flag is set in mask.
func Has[F Flag](mask, flag F) bool {
	return mask&flag == flag
}

// Any reports whether at least one bit of flag is set in mask.
func Any[F Flag](mask, flag F) bool {
	return mask&flag != 0
}

// Set returns mask with all bits of flags set.
func Set[F Flag](mask F, flags ...F) F {
	for _, f := range flags {
		mask |= f
	}
	return mask
}

// Unset returns mask with all bits of flags cleared.
func Unset[F Flag](mask F, flags ...F) F {
	for _, f := range flags {
		mask &^= f
	}
	return mask
}

// Each calls fn once for every set bit in mask, lowest bit first.
// Iteration stops early when fn returns false.
func Each[F Flag](mask F, fn func(F) bool) {
	m := uint64(mask)
	for m != 0 {
		bit := uint64(1) << bits.TrailingZeros64(m)
		if !fn(F(bit)) {
			return
		}
		m &^= bit
	}
}

// Count returns the number of set bits in mask.
func Count[F Flag](mask F) int {
	return bits.OnesCount64(uint64(mask))
}
