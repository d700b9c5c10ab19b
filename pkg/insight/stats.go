package insight

import "math"

// outlierSigma is how many standard deviations from the mean make a value an outlier.
const outlierSigma = 2.0

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// slope is the least-squares slope of xs against their positions.
func slope(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	mx := (n - 1) / 2
	my := mean(xs)
	var num, den float64
	for i, y := range xs {
		dx := float64(i) - mx
		num += dx * (y - my)
		den += dx * dx
	}
	return num / den
}

// pctChange is (to-from)/|from|; it is undefined when from is zero.
func pctChange(from, to float64) (float64, bool) {
	if from == 0 {
		return 0, false
	}
	return (to - from) / math.Abs(from), true
}

// outliers returns the positions of values further than outlierSigma standard
// deviations from the mean.
func outliers(xs []float64) []int {
	sd := stddev(xs)
	if sd == 0 {
		return nil
	}
	m := mean(xs)
	var out []int
	for i, x := range xs {
		if math.Abs(x-m) > outlierSigma*sd {
			out = append(out, i)
		}
	}
	return out
}
