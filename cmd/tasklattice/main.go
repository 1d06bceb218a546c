package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tasklattice/tasklattice/pkg/lattice"
	"github.com/tasklattice/tasklattice/pkg/materialize"
	"github.com/tasklattice/tasklattice/pkg/profile"
	"github.com/tasklattice/tasklattice/pkg/runner"
	"github.com/tasklattice/tasklattice/pkg/runplan"
	"github.com/tasklattice/tasklattice/pkg/runstate"
	"github.com/tasklattice/tasklattice/pkg/sweep"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets any
// variables that aren't already set in the environment. Lines are
// KEY=VALUE (or KEY="VALUE"). Comments (#) and blanks are skipped. The
// .env file is gitignored so secrets never end up in source control.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "tasklattice",
	Short: "Parameterize a file tree, expand it over a sweep, run it",
	Long:  "tasklattice — turn a prototype directory with {{TL ...}} placeholders into many materialized, runnable variants.",
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep configuration operations",
}

var sweepValidateCmd = &cobra.Command{
	Use:   "validate [sweep.yaml]",
	Short: "Validate a sweep document against its schema and domain rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runSweepValidate,
}

func runSweepValidate(cmd *cobra.Command, args []string) error {
	cfg, err := sweep.LoadFile(args[0])
	if err != nil {
		return fmt.Errorf("load sweep document: %w", err)
	}
	if errs := sweep.Validate(cfg); len(errs) > 0 {
		for i, e := range errs {
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, " (at %s)", e.Path)
			}
			fmt.Fprintln(os.Stderr)
		}
		return fmt.Errorf("sweep validation failed with %d error(s)", len(errs))
	}
	fmt.Printf("✓ %s is valid (%d ops)\n", cfg.Name, len(cfg.Ops))
	return nil
}

var sweepPlanCmd = &cobra.Command{
	Use:   "plan [sweep.yaml]",
	Short: "Compile a sweep document and list the substitution maps it would produce, without materializing",
	Args:  cobra.ExactArgs(1),
	RunE:  runSweepPlan,
}

func runSweepPlan(cmd *cobra.Command, args []string) error {
	cfg, lat, err := loadAndCompileSweep(args[0])
	if err != nil {
		return err
	}
	if n, ok := lat.EstimatedCardinality(); ok {
		fmt.Printf("estimated cardinality: %d\n", n)
	}
	i := 0
	err = lat.Each(func(m lattice.SubstitutionMap) (bool, error) {
		data, merr := json.Marshal(toJSONMap(m))
		if merr != nil {
			return false, merr
		}
		fmt.Printf("%d: %s\n", i, string(data))
		i++
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("sweep %q: %w", cfg.Name, err)
	}
	return nil
}

var sweepMaterializeCmd = &cobra.Command{
	Use:   "materialize [sweep.yaml]",
	Short: "Compile a sweep document and materialize every variant under runs_root",
	Args:  cobra.ExactArgs(1),
	RunE:  runSweepMaterialize,
}

func runSweepMaterialize(cmd *cobra.Command, args []string) error {
	_, plan, lat, err := loadCompileAndPlan(args[0])
	if err != nil {
		return err
	}
	mat, err := materialize.New(plan)
	if err != nil {
		return fmt.Errorf("build materializer: %w", err)
	}
	n := 0
	err = lat.Each(func(m lattice.SubstitutionMap) (bool, error) {
		run, merr := mat.Run(m)
		if merr != nil {
			return false, merr
		}
		fmt.Printf("materialized %s -> %s\n", run.RunID, run.RunDir)
		n++
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("materialize: %w", err)
	}
	fmt.Printf("%d run(s) materialized\n", n)
	return nil
}

var sweepRunMaxParallel int
var sweepRunCmdline []string
var sweepRunTimeoutSecs int

var sweepRunCmd = &cobra.Command{
	Use:   "run [sweep.yaml] -- cmd [args...]",
	Short: "Materialize every variant and submit it to the local runner",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSweepRun,
}

func runSweepRun(cmd *cobra.Command, args []string) error {
	file := args[0]
	argv := args[1:]
	if len(sweepRunCmdline) > 0 {
		argv = sweepRunCmdline
	}
	if len(argv) == 0 {
		return fmt.Errorf("no command given: pass -- cmd [args...] or --cmd")
	}

	_, plan, lat, err := loadCompileAndPlan(file)
	if err != nil {
		return err
	}
	mat, err := materialize.New(plan)
	if err != nil {
		return fmt.Errorf("build materializer: %w", err)
	}

	maxParallel := runner.ParallelAuto
	if sweepRunMaxParallel > 0 {
		maxParallel = runner.MaxParallel(sweepRunMaxParallel)
	}

	factory := func(*materialize.RunMaterialized) runner.LaunchSpec {
		spec := runner.LaunchSpec{Cmd: argv}
		if sweepRunTimeoutSecs > 0 {
			t := sweepRunTimeoutSecs
			spec.Resources.TimeLimitSecs = &t
		}
		return spec
	}

	r, err := runner.NewLocalRunner("local", factory, maxParallel)
	if err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	defer r.Close()

	var handles []runner.Handle
	err = lat.Each(func(m lattice.SubstitutionMap) (bool, error) {
		run, merr := mat.Run(m)
		if merr != nil {
			return false, merr
		}
		h, serr := r.Submit(run)
		if serr != nil {
			return false, serr
		}
		fmt.Printf("submitted %s\n", h.RunID())
		handles = append(handles, h)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	failed := 0
	for _, h := range handles {
		status := h.Wait(0)
		fmt.Printf("%s: %s\n", h.RunID(), status)
		if status != runstate.StatusSucceeded {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d run(s) did not succeed", failed)
	}
	return nil
}

func loadAndCompileSweep(path string) (*sweep.Config, lattice.Lattice, error) {
	cfg, _, lat, err := loadCompileAndPlan(path)
	return cfg, lat, err
}

func loadCompileAndPlan(path string) (*sweep.Config, *runplan.RunPlan, lattice.Lattice, error) {
	cfg, err := sweep.LoadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load sweep document: %w", err)
	}
	if errs := sweep.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  [%s] %s\n", e.Phase, e.Message)
		}
		return nil, nil, nil, fmt.Errorf("sweep validation failed with %d error(s)", len(errs))
	}
	plan, lat, err := sweep.Compile(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("compile sweep: %w", err)
	}
	return cfg, plan, lat, nil
}

func toJSONMap(m lattice.SubstitutionMap) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[string(k)] = v.String()
	}
	return out
}

// --- profiles ---

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Rendering profile operations",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in rendering profiles",
	Run: func(cmd *cobra.Command, args []string) {
		for _, id := range profile.List() {
			fmt.Println(id)
		}
	},
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the sweep document JSON Schema to stdout",
	RunE:  runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	data, err := sweep.GenerateJSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tasklattice %s (build: %s)\n", version, commit)
	},
}

func init() {
	sweepRunCmd.Flags().IntVar(&sweepRunMaxParallel, "max-parallel", 0, "Maximum concurrent runs (0 = auto: NumCPU-1)")
	sweepRunCmd.Flags().StringArrayVar(&sweepRunCmdline, "cmd", nil, "Command to run for each variant, repeatable per argv entry (overrides the trailing -- args)")
	sweepRunCmd.Flags().IntVar(&sweepRunTimeoutSecs, "timeout", 0, "Per-run timeout in seconds (0 = none)")

	sweepCmd.AddCommand(sweepValidateCmd)
	sweepCmd.AddCommand(sweepPlanCmd)
	sweepCmd.AddCommand(sweepMaterializeCmd)
	sweepCmd.AddCommand(sweepRunCmd)

	profilesCmd.AddCommand(profilesListCmd)

	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}
