package rf

// HardwareProfile describes a radio + antenna preset.
type HardwareProfile struct {
	ID               string
	Name             string
	TxPowerDbm       float64
	AntennaGainDbi   float64
	CableLossDb      float64
	RxSensitivityDbm float64
	FrequencyMHz     float64
	BandwidthKHz     float64
	SpreadingFactor  int
	MaxRangeKm       float64
}

var profiles = []HardwareProfile{
	{"heltec_v3", "Heltec V3", 22, 2, 0.5, -132, 906.875, 250, 11, 5},
	{"tbeam_v1_1", "T-Beam V1.1", 22, 2.15, 0.5, -132, 906.875, 250, 11, 5},
	{"tbeam_1w", "T-Beam 1W", 30, 3, 0.5, -132, 906.875, 250, 11, 15},
	{"rak4631", "RAK4631", 22, 2.5, 0.5, -132, 906.875, 250, 11, 5},
	{"station_g2", "Station G2", 30, 3, 0.5, -136, 906.875, 250, 11, 20},
	{"nano_g2_ultra", "Nano G2 Ultra", 30, 2, 0.5, -136, 906.875, 250, 11, 15},
	{"base_station_high_gain", "Base Station HG", 30, 6, 0.5, -136, 906.875, 250, 11, 25},
	{"handheld_compact", "Handheld Compact", 22, 1, 0.5, -132, 906.875, 250, 11, 3},
}

// Profiles returns a copy of the built-in presets.
func Profiles() []HardwareProfile {
	out := make([]HardwareProfile, len(profiles))
	copy(out, profiles)
	return out
}

// ProfileByID looks up a preset.
func ProfileByID(id string) (HardwareProfile, bool) {
	for _, p := range profiles {
		if p.ID == id {
			return p, true
		}
	}
	return HardwareProfile{}, false
}

// Apply copies the preset's RF parameters onto n.
func (p HardwareProfile) Apply(n Node) Node {
	n.TxPowerDbm = p.TxPowerDbm
	n.AntennaGainDbi = p.AntennaGainDbi
	n.CableLossDb = p.CableLossDb
	n.RxSensitivityDbm = p.RxSensitivityDbm
	n.FrequencyMHz = p.FrequencyMHz
	n.BandwidthKHz = p.BandwidthKHz
	n.SpreadingFactor = p.SpreadingFactor
	n.MaxRangeKm = p.MaxRangeKm
	return n
}
