package transcribe

// Stats summarizes one solve.
type Stats struct {
	Converged  bool
	Status     string
	Iterations int
	Objective  float64
}

// Result holds the solved trajectories on the simulation grid, point values
// for estimated parameters and the solve summary.
type Result struct {
	// Time holds elapsed seconds from the horizon start.
	Time         []float64
	Trajectories map[string][]float64
	Points       map[string]float64
	Stats        Stats
}

// NewResult assembles a solve result. Backends that produce trajectories by
// other means than SLSQP use this to feed the shared extraction path.
func NewResult(time []float64, traj map[string][]float64, points map[string]float64, stats Stats) *Result {
	return &Result{Time: time, Trajectories: traj, Points: points, Stats: stats}
}

// Get returns the named trajectory.
func (r *Result) Get(name string) ([]float64, bool) {
	v, ok := r.Trajectories[name]
	return v, ok
}

// Initial returns the variable's value at the horizon start: the point value
// for parameters, otherwise the first trajectory sample.
func (r *Result) Initial(name string) (float64, bool) {
	if v, ok := r.Points[name]; ok {
		return v, true
	}
	if traj, ok := r.Trajectories[name]; ok && len(traj) > 0 {
		return traj[0], true
	}
	return 0, false
}
