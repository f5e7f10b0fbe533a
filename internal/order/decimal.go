package order

// NDP is the number of decimal places accompanying a fixed-point mantissa.
type NDP uint8

// Qty is a fixed-point quantity: an integer mantissa at an explicit NDP.
// Arithmetic and comparisons must normalize both operands to the same NDP
// first, per spec.md §4.10's invariant.
type Qty struct {
	Mantissa int64
	NDP      NDP
}

var pow10 = [...]int64{
	1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000,
	1000000000, 10000000000, 100000000000, 1000000000000,
}

func scale(ndp NDP) int64 {
	if int(ndp) < len(pow10) {
		return pow10[ndp]
	}
	s := int64(1)
	for i := NDP(0); i < ndp; i++ {
		s *= 10
	}
	return s
}

// normalize rescales q to target NDP, truncating precision lost on a
// downscale.
func (q Qty) normalize(target NDP) int64 {
	if q.NDP == target {
		return q.Mantissa
	}
	if q.NDP < target {
		return q.Mantissa * scale(target-q.NDP)
	}
	return q.Mantissa / scale(q.NDP-target)
}

// commonNDP returns the larger of the two NDPs, so normalizing to it never
// truncates.
func commonNDP(a, b NDP) NDP {
	if a > b {
		return a
	}
	return b
}

// Add returns a+b normalized to the larger of their two NDPs.
func (a Qty) Add(b Qty) Qty {
	ndp := commonNDP(a.NDP, b.NDP)
	return Qty{Mantissa: a.normalize(ndp) + b.normalize(ndp), NDP: ndp}
}

// Sub returns a-b normalized to the larger of their two NDPs.
func (a Qty) Sub(b Qty) Qty {
	ndp := commonNDP(a.NDP, b.NDP)
	return Qty{Mantissa: a.normalize(ndp) - b.normalize(ndp), NDP: ndp}
}

// Cmp returns -1/0/1 comparing a to b after normalizing to the larger NDP.
func (a Qty) Cmp(b Qty) int {
	ndp := commonNDP(a.NDP, b.NDP)
	x, y := a.normalize(ndp), b.normalize(ndp)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// Mul multiplies two Qtys, normalizing to the larger NDP first and leaving
// the result at that NDP (a coarse cumulative-value accumulator; callers
// needing exact precision should track price/qty NDP separately).
func (a Qty) Mul(b Qty) Qty {
	ndp := commonNDP(a.NDP, b.NDP)
	return Qty{Mantissa: a.normalize(ndp) * b.normalize(ndp) / scale(ndp), NDP: ndp}
}

// Zero reports whether the quantity's mantissa is zero.
func (a Qty) Zero() bool { return a.Mantissa == 0 }

// Max returns a if a > b, else b.
func Max(a, b Qty) Qty {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
