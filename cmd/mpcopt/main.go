package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/mpcopt/internal/config"
	"github.com/san-kum/mpcopt/internal/model"
	"github.com/san-kum/mpcopt/internal/optimize"
	"github.com/san-kum/mpcopt/internal/series"
	"github.com/san-kum/mpcopt/internal/units"
	"github.com/spf13/cobra"
)

var (
	configFile string
	backendArg string
	problemArg string
	hoursArg   float64
	priceArg   float64
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mpcopt",
		Short: "optimal control and parameter estimation for thermal zone models",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "scenario file (yaml)")

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write a default scenario file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Save(args[0], config.DefaultConfig())
		},
	}

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "solve an energy or energy-cost minimization",
		RunE:  runOptimize,
	}
	optimizeCmd.Flags().StringVar(&problemArg, "problem", "", "energy_min or energy_cost_min")
	optimizeCmd.Flags().StringVar(&backendArg, "backend", "", "collocation or derivative_free")
	optimizeCmd.Flags().Float64Var(&hoursArg, "hours", 0, "horizon length override")
	optimizeCmd.Flags().Float64Var(&priceArg, "price", 0, "flat energy price override")

	estimateCmd := &cobra.Command{
		Use:   "estimate",
		Short: "fit the zone heat capacity to synthesized measurements",
		RunE:  runEstimate,
	}

	penaltyCmd := &cobra.Command{
		Use:   "penalty",
		Short: "solve energy minimization with the exterior-penalty search",
		RunE:  runPenalty,
	}

	rootCmd.AddCommand(initCmd, optimizeCmd, estimateCmd, penaltyCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configFile)
}

func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if problemArg != "" {
		cfg.Problem = problemArg
	}
	if backendArg != "" {
		cfg.Backend = backendArg
	}
	if hoursArg > 0 {
		cfg.Hours = hoursArg
	}
	if priceArg > 0 {
		cfg.Price = priceArg
	}

	m, err := cfg.Model()
	if err != nil {
		return err
	}
	set, err := cfg.Constraints()
	if err != nil {
		return err
	}
	start, final, err := cfg.Window()
	if err != nil {
		return err
	}

	o, err := optimize.New(m, optimize.ProblemKind(cfg.Problem),
		optimize.PackageKind(cfg.Backend), cfg.Objective, set)
	if err != nil {
		return err
	}

	solveArgs := optimize.Args{Algorithm: cfg.Penalty.Algorithm}
	if optimize.ProblemKind(cfg.Problem) == optimize.EnergyCostMin {
		solveArgs.PriceData = series.Constant(optimize.PriceSignal,
			units.PricePerKWh, start, final, cfg.Price)
	}

	fmt.Println(titleStyle.Render("mpcopt: " + cfg.Problem + " / " + cfg.Backend))
	if err := o.Optimize(context.Background(), start, final, solveArgs); err != nil {
		return err
	}

	printStats(o)
	plotModel(m)
	return nil
}

func runEstimate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	start, final, err := cfg.Window()
	if err != nil {
		return err
	}

	// Measurements from a zone with the scenario's true heat capacity.
	truthCfg := *cfg
	truthCfg.Zone.Heatcap = cfg.Estimate.TrueHeatcap
	truth, err := truthCfg.Model()
	if err != nil {
		return err
	}
	if err := truth.SetTimeWindow(start, final); err != nil {
		return err
	}
	sim, err := truth.Simulate(context.Background())
	if err != nil {
		return err
	}
	temps, _ := sim.Get("T_db")
	measured, err := series.FromOffsets("T_db", units.Kelvin, start, sim.Time, temps)
	if err != nil {
		return err
	}

	m, err := cfg.Model()
	if err != nil {
		return err
	}
	m.DeclareParameter(model.Parameter{
		Name: "heatcap", Unit: units.JoulePerK,
		Value: cfg.Zone.Heatcap,
		Min:   cfg.Estimate.Min, Max: cfg.Estimate.Max,
		Free: true,
	})
	if err := m.SetMeasured("T_db", measured); err != nil {
		return err
	}

	o, err := optimize.New(m, optimize.ParameterEstimate, optimize.Collocation, "", nil)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("mpcopt: parameter estimation"))
	err = o.Optimize(context.Background(), start, final, optimize.Args{
		MeasurementVariables: []string{"T_db"},
	})
	if err != nil {
		return err
	}

	p, _ := m.Parameter("heatcap")
	fmt.Printf("heatcap: %s (true %s)\n",
		okStyle.Render(fmt.Sprintf("%.3g J/K", p.Value)),
		dimStyle.Render(fmt.Sprintf("%.3g J/K", cfg.Estimate.TrueHeatcap)))
	printStats(o)
	return nil
}

func runPenalty(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := cfg.Model()
	if err != nil {
		return err
	}
	set, err := cfg.Constraints()
	if err != nil {
		return err
	}
	start, final, err := cfg.Window()
	if err != nil {
		return err
	}

	o, err := optimize.New(m, optimize.EnergyMin, optimize.DerivativeFree, cfg.Objective, set)
	if err != nil {
		return err
	}
	err = o.SetOptions(optimize.Options{
		optimize.OptMaxIterations: cfg.Penalty.Budget,
		optimize.OptPopulation:    cfg.Penalty.Population,
		optimize.OptSeed:          cfg.Penalty.Seed,
		optimize.OptAlgorithm:     cfg.Penalty.Algorithm,
	})
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("mpcopt: exterior-penalty search (" + cfg.Penalty.Algorithm + ")"))
	err = o.Optimize(context.Background(), start, final, optimize.Args{
		Algorithm: cfg.Penalty.Algorithm,
	})
	if err != nil {
		return err
	}

	history, err := o.PenaltyHistory()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "iter\tmu\tcost")
	for k, entry := range history {
		fmt.Fprintf(w, "%d\t%.1f\t%.4g\n", k+1, entry.Multiplier, entry.Cost)
	}
	w.Flush()

	state, _ := o.PenaltyState()
	if state == optimize.PenaltyConverged {
		fmt.Println(okStyle.Render("state: " + string(state)))
	} else {
		fmt.Println(warnStyle.Render("state: " + string(state)))
	}

	printStats(o)
	plotModel(m)
	return nil
}

func printStats(o *optimize.Orchestrator) {
	stats, err := o.Statistics()
	if err != nil {
		fmt.Println(warnStyle.Render(err.Error()))
		return
	}
	out, err := stats.Marshal()
	if err != nil {
		fmt.Println(warnStyle.Render(err.Error()))
		return
	}
	fmt.Println(dimStyle.Render(out))
}

func plotModel(m *model.Model) {
	if q := m.Control("q_flow"); !q.Empty() {
		plotSeries("q_flow [W]", q.Values)
	}
	if mea, ok := m.Measurement("T_db"); ok && !mea.Simulated.Empty() {
		plotSeries("T_db simulated [K]", mea.Simulated.Values)
	}
}

func plotSeries(caption string, data []float64) {
	if len(data) < 2 {
		return
	}
	graph := asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption(caption),
	)
	fmt.Println(graph)
	fmt.Println()
}
