package safe

import (
	"math"
	"testing"
)

func TestSafeArithmetic(t *testing.T) {
	if got := SafeAdd(40, 2); got != 42 {
		t.Errorf("SafeAdd = %d, want 42", got)
	}
	if got := SafeSub(-5, 10); got != -15 {
		t.Errorf("SafeSub = %d, want -15", got)
	}
	if got := SafeMul(499, 40); got != 19960 {
		t.Errorf("SafeMul = %d, want 19960", got)
	}
	if got := SafeNeg(7); got != -7 {
		t.Errorf("SafeNeg = %d, want -7", got)
	}
}

func TestSafeArithmetic_Overflow(t *testing.T) {
	cases := map[string]func(){
		"add": func() { SafeAdd(math.MaxInt64, 1) },
		"sub": func() { SafeSub(math.MinInt64, 1) },
		"mul": func() { SafeMul(math.MaxInt64, 2) },
		"neg": func() { SafeNeg(math.MinInt64) },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("%s should panic on overflow", name)
				}
			}()
			fn()
		})
	}
}
