package domain

import "time"

const minutesPerDay = 24 * 60

// MinutesOfDay returns the fractional minutes elapsed since midnight UTC.
func MinutesOfDay(t time.Time) float64 {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return t.Sub(midnight).Minutes()
}

// Blend linearly interpolates between a (at timeA) and b (at timeB) for the
// query time. Times are minutes of day; timeB before timeA means b lies on
// the next day, and so does a query before timeA.
//
// The result is computed as (1-f)*a + f*b so both endpoints are exact.
func Blend(a, b, timeA, timeB, query float64) float64 {
	if timeB < timeA {
		timeB += minutesPerDay
	}
	if query < timeA {
		query += minutesPerDay
	}
	if timeB == timeA {
		return a
	}
	f := (query - timeA) / (timeB - timeA)
	return (1-f)*a + f*b
}

// BlendEstimates blends values and variances of two bracketing estimates.
func BlendEstimates(a, b Estimate, timeA, timeB, query float64) Estimate {
	return Estimate{
		Value:    Blend(a.Value, b.Value, timeA, timeB, query),
		Variance: Blend(a.Variance, b.Variance, timeA, timeB, query),
	}
}

// BlendAt blends estimates made on the epochs at ta and tb for query time q.
func BlendAt(a, b Estimate, ta, tb, q time.Time) Estimate {
	base := ta.UTC()
	day := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, time.UTC)
	return BlendEstimates(a, b,
		ta.Sub(day).Minutes(),
		tb.Sub(day).Minutes(),
		q.Sub(day).Minutes(),
	)
}
