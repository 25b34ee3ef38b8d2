package optimize

import (
	"fmt"
	"reflect"
)

// Option keys shared by both backends. The four auto-managed keys are
// recomputed by the backend on every solve; user writes must match the
// backend's value exactly or fail.
const (
	OptExternalData = "external_data"
	OptInitTraj     = "init_traj"
	OptNominalTraj  = "nominal_traj"
	OptIntervals    = "n_e"

	OptMaxIterations = "max_iterations"
	OptAccuracy      = "accuracy"
	OptAlgorithm     = "algorithm"
	OptPopulation    = "population"
	OptSeed          = "seed"
	OptInnerBudget   = "inner_iterations"
)

var autoManaged = map[string]bool{
	OptExternalData: true,
	OptInitTraj:     true,
	OptNominalTraj:  true,
	OptIntervals:    true,
}

// Options is a backend's option store.
type Options map[string]any

func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// merge validates user-supplied options against the store and applies them.
// Auto-managed keys only pass when they equal the backend-computed value; a
// key the backend has not computed yet cannot be set at all.
func (o Options) merge(user Options) error {
	for key, value := range user {
		if autoManaged[key] {
			current, computed := o[key]
			if !computed {
				return fmt.Errorf("%w: option %q is auto-managed", ErrConfiguration, key)
			}
			if !reflect.DeepEqual(current, value) {
				return fmt.Errorf("%w: option %q is auto-managed (backend value %v, got %v)",
					ErrConfiguration, key, current, value)
			}
		}
	}
	for key, value := range user {
		o[key] = value
	}
	return nil
}

// intOption reads an integer option, tolerating the numeric types a YAML or
// user map may carry.
func intOption(o Options, key string, fallback int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func floatOption(o Options, key string, fallback float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func stringOption(o Options, key, fallback string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return fallback
}

func int64Option(o Options, key string, fallback int64) int64 {
	switch v := o[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return fallback
	}
}
