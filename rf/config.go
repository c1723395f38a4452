package rf

import "fmt"

// Config is the receiver side of the link budget and the display range
// of the signal overlay.
type Config struct {
	RxSensitivityDbm float64
	RxHeightAGL      float64
	RxGainDbi        float64
	RxCableLossDb    float64
	DisplayMinDbm    float64
	DisplayMaxDbm    float64
}

// DefaultConfig returns the receiver defaults.
func DefaultConfig() Config {
	return Config{
		RxSensitivityDbm: -130,
		RxHeightAGL:      1,
		RxGainDbi:        2,
		RxCableLossDb:    2,
		DisplayMinDbm:    -130,
		DisplayMaxDbm:    -80,
	}
}

// ITMParams configures the Longley-Rice irregular terrain model.
type ITMParams struct {
	Climate            int
	GroundDielectric   float64
	GroundConductivity float64
	Polarization       int // 0 horizontal, 1 vertical
	SituationPct       float64
	TimePct            float64
	Refractivity       float64
	LocationPct        float64
	MDVar              int
}

// DefaultITMParams returns continental-temperate average ground.
func DefaultITMParams() ITMParams {
	return ITMParams{
		Climate:            5,
		GroundDielectric:   15,
		GroundConductivity: 0.005,
		Polarization:       1,
		SituationPct:       50,
		TimePct:            50,
		Refractivity:       301,
		LocationPct:        50,
		MDVar:              12,
	}
}

// Validate clamps p into the model's accepted ranges.
func (p ITMParams) Validate() ITMParams {
	clampPct := func(v float64) float64 {
		if v < 1 {
			return 1
		}
		if v > 99 {
			return 99
		}
		return v
	}
	if p.Climate < 1 || p.Climate > 7 {
		p.Climate = 5
	}
	if p.GroundDielectric <= 0 {
		p.GroundDielectric = 15
	}
	if p.GroundConductivity <= 0 {
		p.GroundConductivity = 0.005
	}
	if p.Polarization != 0 {
		p.Polarization = 1
	}
	if p.Refractivity <= 0 {
		p.Refractivity = 301
	}
	p.SituationPct = clampPct(p.SituationPct)
	p.TimePct = clampPct(p.TimePct)
	p.LocationPct = clampPct(p.LocationPct)
	return p
}

// PropagationModel selects the path-loss kernel.
type PropagationModel int

const (
	ModelFSPL PropagationModel = iota
	ModelITM
	ModelFresnel
)

func (m PropagationModel) String() string {
	switch m {
	case ModelFSPL:
		return "fspl"
	case ModelITM:
		return "itm"
	case ModelFresnel:
		return "fresnel"
	}
	return fmt.Sprintf("PropagationModel(%d)", int(m))
}

// ParseModel maps a model name to a PropagationModel.
func ParseModel(s string) (PropagationModel, error) {
	switch s {
	case "fspl", "":
		return ModelFSPL, nil
	case "itm":
		return ModelITM, nil
	case "fresnel":
		return ModelFresnel, nil
	}
	return ModelFSPL, fmt.Errorf("rf: unknown propagation model %q", s)
}

// OverlayMode selects how coverage is blended over terrain.
type OverlayMode int

const (
	OverlayNone OverlayMode = iota
	OverlayViewshed
	OverlaySignal
	OverlayLinkMargin
)

func (m OverlayMode) String() string {
	switch m {
	case OverlayNone:
		return "none"
	case OverlayViewshed:
		return "viewshed"
	case OverlaySignal:
		return "signal"
	case OverlayLinkMargin:
		return "link_margin"
	}
	return fmt.Sprintf("OverlayMode(%d)", int(m))
}

// ParseOverlay maps an overlay name to an OverlayMode.
func ParseOverlay(s string) (OverlayMode, error) {
	switch s {
	case "none", "":
		return OverlayNone, nil
	case "viewshed":
		return OverlayViewshed, nil
	case "signal":
		return OverlaySignal, nil
	case "link_margin", "margin":
		return OverlayLinkMargin, nil
	}
	return OverlayNone, fmt.Errorf("rf: unknown overlay mode %q", s)
}

// RenderMode selects terrain relief or a flat map.
type RenderMode int

const (
	RenderTerrain RenderMode = iota
	RenderFlat
)
