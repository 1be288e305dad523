package domain

// TECU is the number of electrons per square metre in one TEC unit.
const TECU = 1e16

// DefaultAltimeterFrequencyHz is the Ku-band frequency of the altimeters the
// corrections were calibrated for.
const DefaultAltimeterFrequencyHz = 13.575e9

// IonoDelay returns the first-order ionospheric range delay in metres for
// tec (TEC units) at frequency freqHz.
func IonoDelay(tec, freqHz float64) float64 {
	if freqHz <= 0 {
		freqHz = DefaultAltimeterFrequencyHz
	}
	return 40.3 / (freqHz * freqHz) * tec * TECU
}

// Correction applies a scaled ionospheric delay to sea level anomalies.
// Scale is the product of the altimetry/GIM calibration factors.
type Correction struct {
	Scale       float64
	FrequencyHz float64
}

// Apply returns sla + Scale * IonoDelay(tec).
func (c Correction) Apply(sla, tec float64) float64 {
	return sla + c.Scale*IonoDelay(tec, c.FrequencyHz)
}

// ApplyAll corrects parallel sla and tec arrays.
func (c Correction) ApplyAll(sla, tec []float64) ([]float64, error) {
	if len(sla) != len(tec) {
		return nil, ErrDimensionMismatch
	}
	out := make([]float64, len(sla))
	for i := range sla {
		out[i] = c.Apply(sla[i], tec[i])
	}
	return out, nil
}

// Correct returns sla + scale * IonoDelay(tec, freqHz).
func Correct(sla, tec, scale, freqHz float64) float64 {
	return Correction{Scale: scale, FrequencyHz: freqHz}.Apply(sla, tec)
}
