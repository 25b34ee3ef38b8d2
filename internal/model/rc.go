package model

import (
	"fmt"

	"github.com/san-kum/mpcopt/internal/integrators"
	"github.com/san-kum/mpcopt/internal/units"
)

// RCZone is a first-order resistor-capacitor thermal zone with one state T_db
// (zone dry-bulb temperature), a controllable heat input q_flow and the
// ambient dry-bulb temperature weaTDryBul as fixed exogenous input:
//
//	heatcap * dT_db/dt = ua*(weaTDryBul - T_db) + q_flow
type RCZone struct {
	heatcap float64
	ua      float64
}

func NewRCZone(heatcap, ua float64) *RCZone {
	return &RCZone{heatcap: heatcap, ua: ua}
}

func (z *RCZone) Derivative(x, u []float64, t float64) []float64 {
	return []float64{(z.ua*(u[1]-x[0]) + u[0]) / z.heatcap}
}

func (z *RCZone) StateNames() []string { return []string{"T_db"} }

func (z *RCZone) InputNames() []string { return []string{"q_flow", "weaTDryBul"} }

func (z *RCZone) Outputs(x, u []float64, t float64) map[string]float64 { return nil }

func (z *RCZone) SetParameter(name string, value float64) error {
	switch name {
	case "heatcap":
		z.heatcap = value
	case "ua":
		z.ua = value
	default:
		return fmt.Errorf("rczone: unknown parameter %s", name)
	}
	return nil
}

// NewRCModel assembles a Model around an RCZone with declared units, free-able
// parameters and the T_db measurement slot. dt is the simulation sample
// interval in seconds.
func NewRCModel(heatcap, ua, initialTemp, dt float64) *Model {
	zone := NewRCZone(heatcap, ua)
	m := New(zone, integrators.NewRK4(), dt, []float64{initialTemp})

	m.DeclareParameter(Parameter{
		Name: "heatcap", Unit: units.JoulePerK,
		Value: heatcap, Min: heatcap / 100, Max: heatcap * 100,
	})
	m.DeclareParameter(Parameter{
		Name: "ua", Unit: units.WattPerK,
		Value: ua, Min: ua / 100, Max: ua * 100,
	})
	m.DeclareMeasurement("T_db", units.Kelvin)
	m.DeclareUnit("q_flow", units.Watt)
	m.DeclareUnit("weaTDryBul", units.Kelvin)

	return m
}
