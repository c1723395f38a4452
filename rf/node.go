// Package rf holds the radio model: mesh nodes, hardware presets,
// receiver configuration and propagation-model parameters.
package rf

import "fmt"

// Role is the topological role of a node in the mesh.
type Role int

const (
	RoleBackbone Role = iota
	RoleRelay
	RoleLeaf
)

func (r Role) String() string {
	switch r {
	case RoleBackbone:
		return "backbone"
	case RoleRelay:
		return "relay"
	case RoleLeaf:
		return "leaf"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole maps a role name to a Role. Unknown names map to RoleLeaf.
func ParseRole(s string) Role {
	switch s {
	case "backbone":
		return RoleBackbone
	case "relay":
		return RoleRelay
	}
	return RoleLeaf
}

// Node is one transmitter site. Zero-valued RF fields are replaced by
// defaults when the node enters a propagation computation.
type Node struct {
	ID   int
	Name string

	Lat, Lon float64
	Alt      float64

	AntennaHeightM float64
	MaxRangeKm     float64
	Role           Role

	TxPowerDbm       float64
	AntennaGainDbi   float64
	RxSensitivityDbm float64
	FrequencyMHz     float64
	CableLossDb      float64
	BandwidthKHz     float64
	SpreadingFactor  int
}

// Fallback RF parameters applied to unset node fields.
const (
	DefaultTxPowerDbm   = 22.0
	DefaultFrequencyMHz = 906.875
	DefaultMaxRangeKm   = 5.0
	MinAntennaHeightM   = 2.0
)

// EIRP returns the effective isotropic radiated power in dBm.
func (n Node) EIRP() float64 {
	return n.TxPowerDbm + n.AntennaGainDbi - n.CableLossDb
}

// WithDefaults returns a copy of n with unset RF fields filled in.
// rxSensDbm is used when the node has no sensitivity of its own.
func (n Node) WithDefaults(rxSensDbm float64) Node {
	if n.AntennaHeightM < MinAntennaHeightM {
		n.AntennaHeightM = MinAntennaHeightM
	}
	if n.TxPowerDbm <= 0 {
		n.TxPowerDbm = DefaultTxPowerDbm
	}
	if n.FrequencyMHz <= 0 {
		n.FrequencyMHz = DefaultFrequencyMHz
	}
	if n.RxSensitivityDbm >= 0 {
		n.RxSensitivityDbm = rxSensDbm
	}
	if n.MaxRangeKm <= 0 {
		n.MaxRangeKm = DefaultMaxRangeKm
	}
	return n
}
