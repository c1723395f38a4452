package viewshed

import (
	"math"

	"github.com/gogpu/mesh3d/rf"
)

// ITMProfileSamples caps the terrain profile length handed to the ITM
// model for one path.
const ITMProfileSamples = 256

// FSPL returns the free-space path loss in dB over distKm kilometres.
// Distances below 10 m are clamped.
func FSPL(distKm, freqMHz float64) float64 {
	distKm = max(distKm, 0.01)
	return 20*math.Log10(distKm) + 20*math.Log10(freqMHz) + 32.44
}

// KnifeEdgeLoss is the ITU-R P.526 single knife-edge approximation for
// the Fresnel-Kirchhoff parameter v.
func KnifeEdgeLoss(v float64) float64 {
	if v <= -0.78 {
		return 0
	}
	return 6.9 + 20*math.Log10(math.Sqrt((v-0.1)*(v-0.1)+1)+v-0.1)
}

// fresnelV returns the diffraction parameter for an obstacle h metres
// above the ray at distances d1, d2 from the ends.
func fresnelV(h, d1, d2, lambda float64) float64 {
	if d1 <= 0 || d2 <= 0 {
		return math.Inf(-1)
	}
	return h * math.Sqrt(2/(lambda*(d1*d2/(d1+d2))))
}

// Compute evaluates one node over the whole grid. vis is 0/1 and sig
// holds received power in dBm, NoSignal where out of range.
func Compute(elev []float32, env Env, s NodeSetup, model rf.PropagationModel) ([]uint8, []float32) {
	n := env.Rows * env.Cols
	vis := make([]uint8, n)
	sig := make([]float32, n)
	ComputeRows(elev, env, s, model, vis, sig, 0, env.Rows)
	return vis, sig
}

// ComputeRows evaluates rows [r0, r1) into grid-sized vis and sig.
func ComputeRows(elev []float32, env Env, s NodeSetup, model rf.PropagationModel, vis []uint8, sig []float32, r0, r1 int) {
	r0 = max(r0, 0)
	r1 = min(r1, env.Rows)
	p := newPath(elev, env, s)
	for r := r0; r < r1; r++ {
		for c := 0; c < env.Cols; c++ {
			i := r*env.Cols + c
			v, dbm := p.cell(r, c, model)
			vis[i] = v
			sig[i] = float32(dbm)
		}
	}
}

// path carries the per-node constants of one ray march.
type path struct {
	elev   []float32
	env    Env
	s      NodeSetup
	lambda float64
	eirp   float64
	rxNet  float64

	// scratch for Deygout
	d, h []float64
}

func newPath(elev []float32, env Env, s NodeSetup) *path {
	return &path{
		elev:   elev,
		env:    env,
		s:      s,
		lambda: 299.792458 / s.Node.FrequencyMHz,
		eirp:   s.Node.EIRP(),
		rxNet:  env.RxGainDbi - env.RxCableLossDb,
	}
}

func (p *path) at(r, c int) float64 { return float64(p.elev[r*p.env.Cols+c]) }

func (p *path) cell(r, c int, model rf.PropagationModel) (uint8, float64) {
	dr := float64(r - p.s.Row)
	dc := float64(c - p.s.Col)
	dist := math.Sqrt(dr*dr + dc*dc)
	if dist < 0.5 {
		return 1, OwnCellSignal
	}
	if dist > float64(p.s.MaxRangeCells) {
		return 0, NoSignal
	}

	steps := int(dist*1.5) + 1
	target := p.at(r, c) + p.env.TargetHeightM
	total := dist * p.env.CellM
	obs := p.s.ObserverH

	var maxViol, bestT float64
	if model == rf.ModelFresnel {
		p.d = append(p.d[:0], 0)
		p.h = append(p.h[:0], obs)
	}
	for k := 1; k < steps; k++ {
		t := float64(k) / float64(steps)
		si := int(float64(p.s.Row) + dr*t)
		sj := int(float64(p.s.Col) + dc*t)
		if si < 0 || si >= p.env.Rows || sj < 0 || sj >= p.env.Cols {
			continue
		}
		along := total * t
		curve := along * (total - along) * EarthCurveFactor
		ground := p.at(si, sj)
		need := obs + (target-obs)*t - curve
		if viol := ground - need; viol > maxViol {
			maxViol, bestT = viol, t
		}
		if model == rf.ModelFresnel {
			p.d = append(p.d, along)
			p.h = append(p.h, ground+curve)
		}
	}

	var loss float64
	switch model {
	case rf.ModelITM:
		prof, step := ExtractProfile(p.elev, p.env.Rows, p.env.Cols, p.s.Row, p.s.Col, r, c, p.env.CellM, ITMProfileSamples)
		loss = ITMPointToPoint(prof, step, p.s.Node.AntennaHeightM, p.env.TargetHeightM, p.s.Node.FrequencyMHz, p.env.ITM)
		loss += p.knifeEdge(maxViol, bestT, total)
	case rf.ModelFresnel:
		p.d = append(p.d, total)
		p.h = append(p.h, target)
		loss = FSPL(total/1000, p.s.Node.FrequencyMHz) + Deygout(p.d, p.h, p.lambda)
	default:
		loss = FSPL(total/1000, p.s.Node.FrequencyMHz) + p.knifeEdge(maxViol, bestT, total)
	}

	rx := p.eirp - loss + p.rxNet
	if rx >= p.s.Node.RxSensitivityDbm {
		return 1, rx
	}
	return 0, rx
}

func (p *path) knifeEdge(viol, t, total float64) float64 {
	if viol <= 0 {
		return 0
	}
	return KnifeEdgeLoss(fresnelV(viol, total*t, total*(1-t), p.lambda))
}

// deygoutDepth bounds the obstacle recursion: the main edge plus one
// subsidiary edge on each side.
const deygoutDepth = 2

// Deygout returns the multiple knife-edge diffraction loss along a
// profile. d holds distances from the transmitter and h the heights, with
// the first and last entries being the antenna tips.
func Deygout(d, h []float64, lambda float64) float64 {
	if len(d) < 3 || len(d) != len(h) {
		return 0
	}
	return deygout(d, h, lambda, 0, len(d)-1, deygoutDepth)
}

func deygout(d, h []float64, lambda float64, a, b, depth int) float64 {
	if b-a < 2 || depth <= 0 {
		return 0
	}
	best, bestV := -1, -0.78
	for k := a + 1; k < b; k++ {
		f := (d[k] - d[a]) / (d[b] - d[a])
		clearance := h[k] - (h[a] + (h[b]-h[a])*f)
		v := fresnelV(clearance, d[k]-d[a], d[b]-d[k], lambda)
		if v > bestV {
			best, bestV = k, v
		}
	}
	if best < 0 {
		return 0
	}
	return KnifeEdgeLoss(bestV) +
		deygout(d, h, lambda, a, best, depth-1) +
		deygout(d, h, lambda, best, b, depth-1)
}
