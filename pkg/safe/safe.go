// Package safe provides overflow-checked int64 arithmetic.
// Ledger figures are integer cents and shares; a silent wraparound would
// corrupt position or basis, so every operation panics instead.
package safe

import (
	"fmt"
	"math"
)

// SafeAdd returns a+b. Panics on overflow.
func SafeAdd(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic(fmt.Sprintf("INT64_OVERFLOW: %d + %d", a, b))
	}
	return a + b
}

// SafeSub returns a-b. Panics on overflow.
func SafeSub(a, b int64) int64 {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		panic(fmt.Sprintf("INT64_OVERFLOW: %d - %d", a, b))
	}
	return a - b
}

// SafeMul returns a*b. Panics on overflow.
func SafeMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		panic(fmt.Sprintf("INT64_OVERFLOW: %d * %d", a, b))
	}
	return c
}

// SafeNeg returns -a. Panics for math.MinInt64.
func SafeNeg(a int64) int64 {
	if a == math.MinInt64 {
		panic(fmt.Sprintf("INT64_OVERFLOW: -(%d)", a))
	}
	return -a
}
