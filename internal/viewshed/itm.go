package viewshed

import (
	"math"
	"slices"

	"github.com/gogpu/mesh3d/rf"
)

const (
	earthRadiusM = 6371000.0
	kEffective   = 4.0 / 3.0
)

// climateNs is the surface refractivity per ITM climate code 1..7.
var climateNs = [8]float64{0, 360, 320, 370, 325, 310, 350, 295}

// terrainRoughness is the interdecile height range of the profile
// interior.
func terrainRoughness(profile []float64) float64 {
	if len(profile) < 3 {
		return 0
	}
	inner := slices.Clone(profile[1 : len(profile)-1])
	slices.Sort(inner)
	i10 := int(float64(len(inner)) * 0.1)
	i90 := min(int(float64(len(inner))*0.9), len(inner)-1)
	return inner[i90] - inner[i10]
}

func horizonDistance(h float64) float64 { return math.Sqrt(2 * kEffective * earthRadiusM * h) }

// TwoRayLoss is the plane-earth two-ray loss, valid for short paths.
func TwoRayLoss(distM, h1, h2 float64) float64 {
	h1, h2, distM = max(h1, 1), max(h2, 1), max(distM, 1)
	return 120 - 20*math.Log10(h1*h2) + 40*math.Log10(distM)
}

// smoothEarthDiffraction models loss beyond the smooth-earth horizon,
// with effective heights lowered by terrain clutter.
func smoothEarthDiffraction(distM, freqMHz, h1, h2, deltaH float64) float64 {
	lambda := 299.792458 / freqMHz
	if deltaH > 0 {
		h1 = max(h1-0.1*deltaH, 1)
		h2 = max(h2-0.1*deltaH, 1)
	}
	dls := horizonDistance(h1) + horizonDistance(h2)
	if distM <= dls {
		ratio := distM / dls
		return 6 * ratio * ratio
	}
	v := 2 * (distM - dls) / math.Sqrt(lambda*distM)
	if v < -0.78 {
		return 0
	}
	return KnifeEdgeLoss(v)
}

// scatterLoss is a simplified tropospheric scatter term for paths over
// 10 km.
func scatterLoss(distM, freqMHz float64, climate int) float64 {
	if distM/1000 < 10 {
		return 0
	}
	ns := 310.0
	if climate >= 1 && climate <= 7 {
		ns = climateNs[climate]
	}
	theta := distM / (kEffective * earthRadiusM)
	loss := 190 - 10*math.Log10(ns) + 20*math.Log10(freqMHz) + 30*math.Log10(theta) - 0.27*ns
	return max(loss, 0)
}

func groundLoss(freqMHz, dielectric, conductivity float64, polarization int) float64 {
	omega := 2 * math.Pi * freqMHz * 1e6
	ratio := conductivity / (omega * 8.854e-12 * dielectric)
	if polarization == 0 {
		return max(2+3*math.Log10(1+ratio), 0)
	}
	return max(1+2*math.Log10(1+ratio), 0)
}

// ITMPointToPoint returns the median Longley-Rice path loss in dB for an
// evenly spaced terrain profile. Antenna heights are above local ground.
// Degenerate input yields 999.
func ITMPointToPoint(profile []float64, stepM, txH, rxH, freqMHz float64, p rf.ITMParams) float64 {
	if len(profile) < 2 || stepM <= 0 || freqMHz <= 0 {
		return 999
	}
	dist := float64(len(profile)-1) * stepM
	if dist < 1 {
		return 0
	}
	deltaH := terrainRoughness(profile)

	fsl := FSPL(dist/1000, freqMHz)
	dfl := smoothEarthDiffraction(dist, freqMHz, txH, rxH, deltaH)
	gnd := groundLoss(freqMHz, p.GroundDielectric, p.GroundConductivity, p.Polarization)
	scl := scatterLoss(dist, freqMHz, p.Climate)
	dls := horizonDistance(txH) + horizonDistance(rxH)

	var loss float64
	switch {
	case dist < dls*0.5:
		loss = fsl + gnd + 0.1*deltaH/max(txH, 1)
	case dist < dls*2:
		t := min(max((dist-dls*0.5)/(dls*1.5), 0), 1)
		loss = (fsl+gnd)*(1-t) + (fsl+dfl+gnd)*t
	case scl > fsl+dfl+gnd:
		t := min(max((dist/dls-2)/3, 0), 1)
		loss = (fsl+dfl+gnd)*(1-t) + scl*t
	default:
		loss = fsl + dfl + gnd
	}
	if deltaH > 10 {
		loss += 5 * math.Log10(deltaH/10)
	}
	return loss
}

// ExtractProfile samples the grid along the straight line between two
// cells, at most maxSamples points, and returns the samples with their
// spacing in metres. The last sample is always the target cell.
func ExtractProfile(elev []float32, rows, cols, r0, c0, r1, c1 int, cellM float64, maxSamples int) ([]float64, float64) {
	at := func(r, c int) float64 {
		r = min(max(r, 0), rows-1)
		c = min(max(c, 0), cols-1)
		return float64(elev[r*cols+c])
	}
	dr, dc := float64(r1-r0), float64(c1-c0)
	dist := math.Sqrt(dr*dr + dc*dc)
	n := int(dist) + 1
	if n < 2 {
		return []float64{at(r0, c0), at(r1, c1)}, cellM
	}
	step := 1
	if maxSamples > 0 && n > maxSamples {
		step = (n + maxSamples - 1) / maxSamples
		n = (n + step - 1) / step
	}
	out := make([]float64, n)
	for i := range out {
		t := min(float64(i*step)/dist, 1)
		out[i] = at(int(float64(r0)+dr*t), int(float64(c0)+dc*t))
	}
	out[n-1] = at(r1, c1)
	return out, cellM * float64(step)
}
