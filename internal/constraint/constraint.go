// Package constraint holds declarative constraint sets for optimal-control
// problems and compiles them into flat clause records.
//
// A set maps variable names to constraint kinds and their bound values.
// Kind combinations are accepted as written: co-declaring, say, InitialValue
// and Cyclic on the same variable is not rejected here; an infeasible
// combination surfaces as solver non-convergence.
package constraint

import (
	"fmt"
	"sort"
	"time"

	"github.com/san-kum/mpcopt/internal/series"
)

// Kind identifies one constraint flavor on a variable.
type Kind string

const (
	// LowerBound keeps the variable at or above the bound over the horizon.
	LowerBound Kind = "LowerBound"
	// UpperBound keeps the variable at or below the bound over the horizon.
	UpperBound Kind = "UpperBound"
	// LowerBoundOnDerivative bounds the variable's time derivative from below.
	LowerBoundOnDerivative Kind = "LowerBoundOnDerivative"
	// UpperBoundOnDerivative bounds the variable's time derivative from above.
	UpperBoundOnDerivative Kind = "UpperBoundOnDerivative"
	// InitialValue pins the variable at the horizon start.
	InitialValue Kind = "InitialValue"
	// FinalValue pins the variable at the horizon end.
	FinalValue Kind = "FinalValue"
	// Cyclic equates the variable's values at horizon start and end.
	Cyclic Kind = "Cyclic"
)

var kinds = map[Kind]bool{
	LowerBound:             true,
	UpperBound:             true,
	LowerBoundOnDerivative: true,
	UpperBoundOnDerivative: true,
	InitialValue:           true,
	FinalValue:             true,
	Cyclic:                 true,
}

func (k Kind) Valid() bool { return kinds[k] }

// Bound is a constraint value: either a scalar literal or a timeseries.
// Cyclic constraints carry no bound value.
type Bound struct {
	Scalar float64
	Series *series.Timeseries
}

func Literal(v float64) Bound { return Bound{Scalar: v} }

func Trajectory(ts *series.Timeseries) Bound { return Bound{Series: ts} }

func (b Bound) IsSeries() bool { return b.Series != nil }

// At evaluates the bound at t, interpolating timeseries bounds.
func (b Bound) At(t time.Time) float64 {
	if b.Series != nil {
		return b.Series.At(t)
	}
	return b.Scalar
}

// Set maps variable name -> kind -> bound.
type Set map[string]map[Kind]Bound

// Add declares one constraint. Boundary kinds (InitialValue, FinalValue,
// Cyclic) only accept literal bounds.
func (s Set) Add(variable string, kind Kind, b Bound) error {
	if !kind.Valid() {
		return fmt.Errorf("constraint: unknown kind %q on %s", kind, variable)
	}
	if b.IsSeries() && (kind == InitialValue || kind == FinalValue || kind == Cyclic) {
		return fmt.Errorf("constraint: %s on %s requires a literal bound", kind, variable)
	}
	if s[variable] == nil {
		s[variable] = make(map[Kind]Bound)
	}
	s[variable][kind] = b
	return nil
}

// Variables returns the constrained variable names, sorted.
func (s Set) Variables() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clause is one compiled constraint record.
type Clause struct {
	Variable string
	Kind     Kind
	Bound    Bound
}

// compileOrder fixes a deterministic clause order per variable.
var compileOrder = []Kind{
	LowerBound, UpperBound,
	LowerBoundOnDerivative, UpperBoundOnDerivative,
	InitialValue, FinalValue, Cyclic,
}

// Compile flattens the set into clause records, variables sorted by name and
// kinds in declaration-table order. Unknown kinds are rejected.
func (s Set) Compile() ([]Clause, error) {
	var clauses []Clause
	for _, variable := range s.Variables() {
		declared := s[variable]
		for kind := range declared {
			if !kind.Valid() {
				return nil, fmt.Errorf("constraint: unknown kind %q on %s", kind, variable)
			}
		}
		for _, kind := range compileOrder {
			if b, ok := declared[kind]; ok {
				clauses = append(clauses, Clause{Variable: variable, Kind: kind, Bound: b})
			}
		}
	}
	return clauses, nil
}
