package units

// Unit tags the physical unit of a variable's values. The optimization core
// performs no conversions; tags are carried through so extracted results keep
// the model's declared metadata.
type Unit string

const (
	Dimensionless Unit = "1"
	Kelvin        Unit = "K"
	Watt          Unit = "W"
	Joule         Unit = "J"
	JoulePerK     Unit = "J/K"
	WattPerK      Unit = "W/K"
	Second        Unit = "s"
	PricePerKWh   Unit = "$/kWh"
)

// Resolve returns the declared unit for name, or Dimensionless when the
// variable has no declared unit.
func Resolve(table map[string]Unit, name string) Unit {
	if u, ok := table[name]; ok && u != "" {
		return u
	}
	return Dimensionless
}
