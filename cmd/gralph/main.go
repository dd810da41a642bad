// Command gralph drives one run of the task graph end to end: it loads or
// translates a tasks file, schedules tasks onto concurrent agent worktrees,
// and serializes merge-back onto the base branch until the graph is
// complete, deadlocked, or stopped by an external failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FacuVCanale/gralph/internal/agentengine"
	"github.com/FacuVCanale/gralph/internal/artifacts"
	"github.com/FacuVCanale/gralph/internal/contracts"
	"github.com/FacuVCanale/gralph/internal/coordinator"
	"github.com/FacuVCanale/gralph/internal/execrunner"
	"github.com/FacuVCanale/gralph/internal/integrator"
	"github.com/FacuVCanale/gralph/internal/mutexreg"
	"github.com/FacuVCanale/gralph/internal/requirements"
	"github.com/FacuVCanale/gralph/internal/runstate"
	"github.com/FacuVCanale/gralph/internal/scheduler"
	"github.com/FacuVCanale/gralph/internal/selfupdate"
	"github.com/FacuVCanale/gralph/internal/skills"
	"github.com/FacuVCanale/gralph/internal/supervisor"
	"github.com/FacuVCanale/gralph/internal/taskstore"
	"github.com/FacuVCanale/gralph/internal/ui"
	"github.com/FacuVCanale/gralph/internal/ui/tui"
	"github.com/FacuVCanale/gralph/internal/vcsgit"
	"github.com/FacuVCanale/gralph/internal/version"
	"github.com/FacuVCanale/gralph/internal/worktree"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

type exitFunc func(code int)

const (
	exitOK           = 0
	exitFailure      = 1
	exitInvalidUsage = 2
)

func main() {
	os.Exit(RunOnceMain(os.Args[1:], os.Exit, os.Stdout, os.Stderr))
}

// RunOnceMain is the testable entrypoint: it never calls os.Exit itself
// except through exit, and every side effect goes through stdout/stderr, so
// tests can drive the whole CLI without a real terminal.
func RunOnceMain(args []string, exit exitFunc, stdout, stderr io.Writer) int {
	if version.IsVersionRequest(args) {
		version.Print(stdout, "gralph")
		return finish(exit, exitOK)
	}

	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: gralph <run|init-skills|update> [flags]")
		return finish(exit, exitInvalidUsage)
	}

	switch args[0] {
	case "run":
		return finish(exit, runCommand(args[1:], stdout, stderr))
	case "init-skills":
		return finish(exit, initSkillsCommand(args[1:], stdout, stderr))
	case "update":
		return finish(exit, updateCommand(args[1:], stdout, stderr))
	case "-h", "--help", "help":
		printUsage(stdout)
		return finish(exit, exitOK)
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q\n", args[0])
		return finish(exit, exitInvalidUsage)
	}
}

func finish(exit exitFunc, code int) int {
	if exit != nil {
		exit(code)
	}
	return code
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: gralph <command> [flags]")
	fmt.Fprintln(w, "  run          schedule and execute a tasks file (or requirements document) to completion")
	fmt.Fprintln(w, "  init-skills  install the prompt-bundle skill directories into a repo")
	fmt.Fprintln(w, "  update       report whether a newer gralph release is available")
}

type runFlags struct {
	repo               string
	requirements       string
	tasksPath          string
	runRoot            string
	baseBranch         string
	branchPrefix       string
	engine             string
	model              string
	parallelism        int
	maxRetries         int
	retryDelay         time.Duration
	stalledTimeout     time.Duration
	externalFailWindow time.Duration
	maxIterations      int
	mergeMaxAttempts   int
	dryRun             bool
	headless           bool
	verbose            bool
}

func parseRunFlags(args []string, stderr io.Writer) (runFlags, error) {
	fs := flag.NewFlagSet("gralph-run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var f runFlags
	fs.StringVar(&f.repo, "repo", ".", "repository root containing the base branch")
	fs.StringVar(&f.requirements, "requirements", "", "path to a requirements document to translate into a tasks file (resumes by its prd-id)")
	fs.StringVar(&f.tasksPath, "tasks", "", "path to an existing tasks file; mutually exclusive with -requirements")
	fs.StringVar(&f.runRoot, "run-root", ".gralph/runs", "directory under which per-run state is persisted")
	fs.StringVar(&f.baseBranch, "base-branch", "main", "branch every task worktree is created from and merged back onto")
	fs.StringVar(&f.branchPrefix, "branch-prefix", "gralph", "prefix applied to every task branch name")
	fs.StringVar(&f.engine, "engine", "", "coding-agent backend name from the engine catalog")
	fs.StringVar(&f.model, "model", "", "model name passed through to the engine")
	fs.IntVar(&f.parallelism, "parallelism", 3, "maximum number of tasks running concurrently")
	fs.IntVar(&f.maxRetries, "max-retries", 1, "maximum engine invocation attempts per task")
	fs.DurationVar(&f.retryDelay, "retry-delay", 5*time.Second, "delay between retry attempts")
	fs.DurationVar(&f.stalledTimeout, "stalled-timeout", 10*time.Minute, "how long a task may run with no output before it is treated as stalled")
	fs.DurationVar(&f.externalFailWindow, "external-fail-window", 30*time.Second, "after the first external failure, how long in-flight tasks may keep running before they are cancelled")
	fs.IntVar(&f.maxIterations, "max-iterations", 0, "bound on coordinator iterations; 0 is unbounded")
	fs.IntVar(&f.mergeMaxAttempts, "merge-max-attempts", 1, "conflict-resolution attempts before abandoning a merge")
	fs.BoolVar(&f.dryRun, "dry-run", false, "print the resolved plan without executing anything")
	fs.BoolVar(&f.headless, "headless", false, "force the plain progress line even on a terminal")
	fs.BoolVar(&f.verbose, "verbose", false, "emit every event, not just state transitions")

	if err := fs.Parse(args); err != nil {
		return runFlags{}, err
	}
	if f.requirements != "" && f.tasksPath != "" {
		return runFlags{}, fmt.Errorf("-requirements and -tasks are mutually exclusive")
	}
	if f.requirements == "" && f.tasksPath == "" {
		return runFlags{}, fmt.Errorf("one of -requirements or -tasks is required")
	}
	return f, nil
}

// runCommand implements the "run" subcommand (§6.5): resolve the tasks
// file, build the run directory (§6.6), wire every component, and drive
// the Coordinator to completion.
func runCommand(args []string, stdout, stderr io.Writer) int {
	flags, err := parseRunFlags(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitInvalidUsage
	}

	ctx := context.Background()
	runner := execrunner.NewCommandRunner()
	vcs := vcsgit.New(flags.repo, runner)
	catalog, err := agentengine.LoadCatalog(flags.repo)
	if err != nil {
		fmt.Fprintln(stderr, "load engine catalog:", err)
		return exitInvalidUsage
	}

	var engine contracts.Engine
	if flags.engine != "" {
		engine, err = catalog.NewEngine(flags.engine)
		if err != nil {
			fmt.Fprintln(stderr, "build engine:", err)
			return exitInvalidUsage
		}
	}

	taskSet, prdID, tasksFilePath, err := resolveTasks(ctx, flags, engine, stdout)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitInvalidUsage
	}

	if verr := taskSet.Validate(); verr != nil {
		fmt.Fprintln(stderr, "tasks file is invalid:", verr)
		return exitInvalidUsage
	}

	runDir := filepath.Join(flags.runRoot, prdID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "reports"), filepath.Join(runDir, "worktrees")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintln(stderr, "create run directory:", err)
			return exitInvalidUsage
		}
	}

	store := taskstore.New(tasksFilePath)
	if err := store.Save(taskSet); err != nil {
		fmt.Fprintln(stderr, "persist tasks file:", err)
		return exitInvalidUsage
	}

	if flags.dryRun {
		printPlan(stdout, taskSet)
		return exitOK
	}

	nodes := make([]scheduler.TaskNode, 0, len(taskSet.Tasks))
	for _, task := range taskSet.Tasks {
		state := contracts.TaskPending
		if task.Completed {
			state = contracts.TaskDone
		}
		nodes = append(nodes, scheduler.TaskNode{ID: task.ID, State: state, DependsOn: task.DependsOn, Mutex: task.Mutex})
	}
	mutexes := mutexreg.New()
	graph, err := scheduler.NewGraph(nodes, mutexes)
	if err != nil {
		fmt.Fprintln(stderr, "build task graph:", err)
		return exitInvalidUsage
	}

	state := runstate.New(filepath.Join(runDir, "scheduler-state.json"))
	artifactWriter := artifacts.New(runDir)
	worktrees := worktree.New(vcs, filepath.Join(runDir, "worktrees"), flags.branchPrefix, flags.baseBranch)
	if _, err := worktrees.GC(ctx); err != nil {
		fmt.Fprintln(stderr, "worktree gc:", err)
	}

	sup := &supervisor.Supervisor{
		Worktrees:       worktrees,
		VCS:             vcs,
		Engine:          engine,
		Artifacts:       artifactWriter,
		RunState:        state,
		TasksFilePath:   tasksFilePath,
		ProgressLogPath: filepath.Join(runDir, "progress.txt"),
		BaseBranch:      flags.baseBranch,
		MaxRetries:      flags.maxRetries,
		RetryDelay:      flags.retryDelay,
		StalledTimeout:  flags.stalledTimeout,
		Model:           flags.model,
	}

	integ := &integrator.Integrator{
		VCS:            vcs,
		Tasks:          store,
		ConflictEngine: engine,
		IntegrationDir: flags.repo,
		BaseBranch:     flags.baseBranch,
		MaxAttempts:    flags.mergeMaxAttempts,
		DecisionLogDir: filepath.Join(runDir, "decisions"),
		Model:          flags.model,
		Events:         artifactWriter,
	}

	coord := &coordinator.Coordinator{
		Graph:              graph,
		Tasks:              taskSet.Tasks,
		Supervisor:         sup,
		Integrator:         integ,
		RunState:           state,
		Parallelism:        flags.parallelism,
		MaxIterations:      flags.maxIterations,
		ExternalFailWindow: flags.externalFailWindow,
	}

	progressDone := make(chan struct{})
	progressCtx, cancelProgress := context.WithCancel(ctx)
	var program tuiProgram
	if !useTUI(flags.headless, stdout) {
		progress := ui.NewProgress(ui.ProgressConfig{
			Writer:  stdout,
			State:   fmt.Sprintf("running %d task(s)", len(taskSet.Tasks)),
			LogPath: filepath.Join(runDir, "progress.txt"),
		})
		go func() {
			defer close(progressDone)
			progress.Run(progressCtx)
		}()
	} else {
		program = newTUIProgram(tui.NewModel(nil).WithLogBrowser(runDir), stdout)
		artifactWriter.Tee = verboseFilterSink{verbose: flags.verbose, sink: tuiEmitter{program: program}}
		go func() {
			defer close(progressDone)
			_ = program.Start()
		}()
	}

	result, runErr := coord.Run(ctx)
	cancelProgress()
	if program != nil {
		program.Quit()
	}
	<-progressDone

	if runErr != nil {
		fmt.Fprintln(stderr, "run failed:", runErr)
		return exitFailure
	}

	printReports(stdout, result.Reports)

	if result.Deadlocked {
		fmt.Fprintln(stderr, "deadlock: no task can make progress")
		for _, line := range coord.ExplainDeadlock(result.BlockedTaskIDs) {
			fmt.Fprintln(stderr, " ", line)
		}
		return exitFailure
	}
	if result.GracefulStop {
		fmt.Fprintln(stderr, "stopped after an external failure; see reports for detail")
		return exitFailure
	}
	for _, report := range result.Reports {
		if report.Status == contracts.TaskFailed {
			return exitFailure
		}
	}
	return exitOK
}

// resolveTasks loads an existing tasks file verbatim, or extracts the
// requirements document's prd-id and translates it via a one-shot agent
// invocation (§3a, §6.2) when -requirements is given.
func resolveTasks(ctx context.Context, flags runFlags, engine contracts.Engine, stdout io.Writer) (contracts.TaskSet, string, string, error) {
	if flags.tasksPath != "" {
		store := taskstore.New(flags.tasksPath)
		taskSet, err := store.Load()
		if err != nil {
			return contracts.TaskSet{}, "", "", fmt.Errorf("load tasks file: %w", err)
		}
		prdID := strings.TrimSuffix(filepath.Base(flags.tasksPath), filepath.Ext(flags.tasksPath))
		return taskSet, prdID, flags.tasksPath, nil
	}

	raw, err := os.ReadFile(flags.requirements)
	if err != nil {
		return contracts.TaskSet{}, "", "", fmt.Errorf("read requirements document: %w", err)
	}
	doc := string(raw)
	prdID, err := requirements.ExtractPRDID(doc)
	if err != nil {
		return contracts.TaskSet{}, "", "", err
	}

	runDir := filepath.Join(flags.runRoot, prdID)
	tasksFilePath := filepath.Join(runDir, "tasks.yaml")
	if _, err := os.Stat(tasksFilePath); err == nil {
		fmt.Fprintf(stdout, "resuming run %s from existing tasks file\n", prdID)
		store := taskstore.New(tasksFilePath)
		taskSet, err := store.Load()
		if err != nil {
			return contracts.TaskSet{}, "", "", fmt.Errorf("load existing tasks file for resume: %w", err)
		}
		return taskSet, prdID, tasksFilePath, nil
	}

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return contracts.TaskSet{}, "", "", fmt.Errorf("create run directory: %w", err)
	}
	reqCopy := filepath.Join(runDir, "requirements"+filepath.Ext(flags.requirements))
	if err := os.WriteFile(reqCopy, raw, 0o644); err != nil {
		return contracts.TaskSet{}, "", "", fmt.Errorf("persist requirements document: %w", err)
	}

	translator := &requirements.Translator{Engine: engine, Model: flags.model}
	translated, err := translator.Translate(ctx, runDir, doc)
	if err != nil {
		return contracts.TaskSet{}, "", "", err
	}

	tmpStore := taskstore.New(tasksFilePath)
	if err := os.WriteFile(tasksFilePath, []byte(translated), 0o644); err != nil {
		return contracts.TaskSet{}, "", "", fmt.Errorf("write translated tasks file: %w", err)
	}
	taskSet, err := tmpStore.Load()
	if err != nil {
		return contracts.TaskSet{}, "", "", fmt.Errorf("validate translated tasks file: %w", err)
	}
	return taskSet, prdID, tasksFilePath, nil
}

// tuiProgram is the subset of *tea.Program the run loop drives, narrowed so
// tests can substitute a fake.
type tuiProgram interface {
	Start() error
	Send(msg tea.Msg)
	Quit()
}

type bubbleTUIProgram struct {
	program *tea.Program
}

func (b bubbleTUIProgram) Start() error     { return b.program.Start() }
func (b bubbleTUIProgram) Send(msg tea.Msg) { b.program.Send(msg) }
func (b bubbleTUIProgram) Quit()            { b.program.Quit() }

var newTUIProgram = func(model tea.Model, stdout io.Writer) tuiProgram {
	return bubbleTUIProgram{program: tea.NewProgram(model, tea.WithOutput(stdout))}
}

// tuiEmitter implements contracts.EventSink by forwarding events into the
// running Bubble Tea program as messages.
type tuiEmitter struct {
	program tuiProgram
}

func (t tuiEmitter) Emit(ctx context.Context, event contracts.Event) error {
	if t.program == nil {
		return nil
	}
	go t.program.Send(event)
	return nil
}

// verboseFilterSink drops the high-volume raw agent-output events before
// they reach the live status view unless -verbose was passed; the durable
// event log on the other side of artifacts.Writer always keeps every event
// regardless of this filter.
type verboseFilterSink struct {
	verbose bool
	sink    contracts.EventSink
}

func (f verboseFilterSink) Emit(ctx context.Context, event contracts.Event) error {
	if !f.verbose && (event.Type == contracts.EventRunnerOutput || event.Type == contracts.EventRunnerProgress) {
		return nil
	}
	return f.sink.Emit(ctx, event)
}

// useTUI reports whether the run should drive the Bubble Tea status view
// instead of the plain headless progress line: only when -headless wasn't
// forced and stdout is an interactive terminal.
func useTUI(headless bool, stdout io.Writer) bool {
	if headless {
		return false
	}
	file, ok := stdout.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func printPlan(w io.Writer, taskSet contracts.TaskSet) {
	fmt.Fprintf(w, "branch %s: %d task(s)\n", taskSet.BranchName, len(taskSet.Tasks))
	for _, task := range taskSet.Tasks {
		fmt.Fprintf(w, "  %s %q depends on %v mutex %v\n", task.ID, task.Title, task.DependsOn, task.Mutex)
	}
}

func printReports(w io.Writer, reports []coordinator.Report) {
	for _, report := range reports {
		if report.Reason != "" {
			fmt.Fprintf(w, "%s: %s (%s)\n", report.TaskID, report.Status, report.Reason)
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", report.TaskID, report.Status)
	}
}

func initSkillsCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gralph-init-skills", flag.ContinueOnError)
	fs.SetOutput(stderr)
	repo := fs.String("repo", ".", "repository root to install skill bundles into")
	force := fs.Bool("force", false, "overwrite already-installed skill bundles")
	if err := fs.Parse(args); err != nil {
		return exitInvalidUsage
	}

	installed, err := skills.Install(*repo, *force)
	if err != nil {
		fmt.Fprintln(stderr, "install skills:", err)
		return exitInvalidUsage
	}
	for _, name := range installed {
		fmt.Fprintf(stdout, "installed %s\n", name)
	}
	return exitOK
}

func updateCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gralph-update", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return exitInvalidUsage
	}

	notice, err := selfupdate.Check(version.Version)
	if err != nil {
		fmt.Fprintln(stderr, "check for update:", err)
		return exitFailure
	}
	if notice.UpdateAvailable {
		fmt.Fprintf(stdout, "a newer gralph release is available: %s (current %s)\n", notice.LatestVersion, notice.CurrentVersion)
		fmt.Fprintln(stdout, "gralph does not auto-update; install the new release through your package manager.")
	} else {
		fmt.Fprintf(stdout, "gralph %s is up to date\n", notice.CurrentVersion)
	}
	return exitOK
}
