package optimize

import "gopkg.in/yaml.v3"

// Statistics is the immutable snapshot of the most recent solve. Numeric
// failure shows up here as a non-converged status, never as an error.
type Statistics struct {
	Status       string  `yaml:"status"`
	Converged    bool    `yaml:"converged"`
	Iterations   int     `yaml:"iterations"`
	Objective    float64 `yaml:"objective"`
	SolveSeconds float64 `yaml:"solve_seconds"`
}

// Marshal renders the snapshot as YAML for logs and golden comparison.
func (s Statistics) Marshal() (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
