package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"commitai/cli/internal/commitmsg"
	"commitai/cli/internal/config"
	"commitai/cli/internal/credential"
	"commitai/cli/internal/erruser"
	"commitai/cli/internal/git"
	"commitai/cli/internal/logging"
	"commitai/cli/internal/openai"
	"commitai/cli/internal/pipeline"
	"commitai/cli/internal/progress"
	"commitai/cli/internal/session"
	"commitai/cli/internal/summarize"
	"commitai/cli/internal/version"
	"commitai/cli/internal/workspace"
)

// errExit is an error that carries an exit code for the CLI. Use errors.As to detect it.
type errExit int

func (e errExit) Error() string {
	return "exit " + strconv.Itoa(int(e))
}

func main() {
	os.Exit(Run())
}

// Run is the entry point for the CLI. It is exported for testing.
func Run() int {
	return runCLI(os.Args[1:])
}

func runCLI(args []string) int {
	return runCLIWith(args, os.Stdin, os.Stdout, os.Stderr)
}

// runCLIWith runs the root command with explicit streams so tests can capture output.
func runCLIWith(args []string, in io.Reader, out, errOut io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	if err := rootCmd.Execute(); err != nil {
		var exitErr errExit
		if errors.As(err, &exitErr) {
			return int(exitErr)
		}
		printError(errOut, err)
		return 1
	}
	return 0
}

// printError prints the user message, an optional hint, and the first cause
// that adds something to the message.
func printError(w io.Writer, err error) {
	msg := err.Error()
	fmt.Fprintln(w, msg)
	if hint := erruser.HintOf(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
	cause := errors.Unwrap(err)
	for cause != nil && strings.Contains(msg, cause.Error()) {
		cause = errors.Unwrap(cause)
	}
	if cause != nil {
		fmt.Fprintf(w, "Details: %v\n", cause)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "commitai",
		Short:   "Generate commit messages for staged changes with an OpenAI completion model",
		Version: version.String(),
	}
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().String("backend", "", "Git backend: cli or go-git (overrides config and env)")
	rootCmd.PersistentFlags().String("base-url", "", "Completion API base URL (overrides config and env)")
	rootCmd.AddCommand(newSetKeyCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newMessageCmd())
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	return rootCmd
}

// env is what every command shares once configuration is loaded.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	gate     *credential.Gate
	credPath string
}

// configRoot returns the repository root for repo-level config, or "" when
// dir is not inside a repository. go-git is used so a missing git binary
// does not block loading configuration.
func configRoot(dir string) string {
	repo, err := git.OpenGoGit(dir)
	if err != nil {
		return ""
	}
	return repo.Root()
}

func overridesFromFlags(cmd *cobra.Command) *config.Overrides {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	o := &config.Overrides{}
	set := false
	if changed("backend") {
		v, _ := flags.GetString("backend")
		o.GitBackend = &v
		set = true
	}
	if changed("base-url") {
		v, _ := flags.GetString("base-url")
		o.BaseURL = &v
		set = true
	}
	if changed("workspace") {
		v, _ := flags.GetString("workspace")
		o.WorkspaceFile = &v
		set = true
	}
	if changed("concurrency") {
		v, _ := flags.GetInt("concurrency")
		o.Concurrency = &v
		set = true
	}
	if changed("max-diff-tokens") {
		v, _ := flags.GetInt("max-diff-tokens")
		o.MaxDiffTokens = &v
		set = true
	}
	if changed("timeout") {
		v, _ := flags.GetDuration("timeout")
		o.Timeout = &v
		set = true
	}
	if !set {
		return nil
	}
	return o
}

// setup loads configuration for dir, builds the logger and the credential gate.
func setup(cmd *cobra.Command, dir string) (*env, error) {
	cfg, err := config.Load(cmd.Context(), config.LoadOptions{
		RepoRoot:  configRoot(dir),
		Overrides: overridesFromFlags(cmd),
	})
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, erruser.New("Invalid log level.", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = zapcore.DebugLevel
	}
	log := logging.New(level, cmd.ErrOrStderr())

	credPath := cfg.CredentialFile
	if credPath == "" {
		credPath, err = credential.DefaultFilePath()
		if err != nil {
			return nil, err
		}
	}
	gate := credential.NewGate(credential.Chain{
		credential.NewFileStore(credPath),
		credential.NewEnvStore(),
	})
	return &env{cfg: cfg, log: log, gate: gate, credPath: credPath}, nil
}

func (e *env) client() *openai.Client {
	return openai.NewClient(e.cfg.BaseURL, e.gate, &openai.Options{
		Timeout: requestTimeout(e.cfg.Timeout),
		Limiter: openai.NewLimiter(e.cfg.RequestsPerSecond),
	})
}

func (e *env) opener() workspace.Opener {
	return func(ctx context.Context, dir string) (git.Repository, error) {
		return git.Open(ctx, dir, e.cfg.GitBackend)
	}
}

func workingDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", erruser.New("Could not determine current directory.", err)
	}
	return cwd, nil
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [path...]",
		Short: "Summarize staged changes and write a commit message for each repository",
		Long: "Summarize each staged file's diff, combine the summaries into one Conventional Commits\n" +
			"message, and store it as the repository's pending message (.git/COMMITAI_EDITMSG).\n" +
			"Repositories come from the arguments, the workspace file, or the current directory.",
		RunE: runGenerate,
	}
	cmd.Flags().String("repo", "", "Only generate for the repository whose root is PATH")
	cmd.Flags().String("hook", "", "Also write the message into this commit-msg/prepare-commit-msg file")
	cmd.Flags().String("workspace", "", "YAML workspace file listing repositories (overrides config and env)")
	cmd.Flags().Int("concurrency", 0, "Max concurrent summaries per repository (0 = unbounded)")
	cmd.Flags().Int("max-diff-tokens", 0, "Truncate each diff to about this many tokens (0 = no truncation)")
	cmd.Flags().Duration("timeout", 0, "Per-request timeout (e.g. 30s; 0 = no timeout)")
	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cwd, err := workingDir()
	if err != nil {
		return err
	}
	cfgDir := cwd
	if len(args) > 0 {
		cfgDir = args[0]
	}
	e, err := setup(cmd, cfgDir)
	if err != nil {
		return err
	}
	defer func() { _ = e.log.Sync() }()

	// Fail before touching any repository.
	if ok, err := e.gate.Has(ctx); err != nil {
		return erruser.New("Could not read the stored API key.", err)
	} else if !ok {
		return credential.MissingError()
	}

	dirs, err := workspace.Dirs(args, e.cfg.WorkspaceFile, cwd)
	if err != nil {
		return err
	}
	ws, err := workspace.Open(ctx, dirs, e.opener())
	if err != nil {
		return reportErrors(cmd.ErrOrStderr(), err)
	}
	repos := ws.All()
	var openErrs *multierror.Error
	if repoPath, _ := cmd.Flags().GetString("repo"); repoPath != "" {
		repo, err := ws.Lookup(repoPath)
		if err != nil {
			return err
		}
		repos = []git.Repository{repo}
	} else {
		for _, f := range ws.Failures() {
			e.log.Debug("repository not opened", zap.String("dir", f.Dir), zap.Error(f.Err))
			openErrs = multierror.Append(openErrs, &pipeline.RepositoryError{Root: f.Dir, Err: f.Err})
		}
	}
	hookPath, _ := cmd.Flags().GetString("hook")
	if hookPath != "" && len(repos) != 1 {
		return erruser.New("--hook needs exactly one repository; use --repo to pick one.", nil)
	}

	var progressOut io.Writer
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		progressOut = cmd.ErrOrStderr()
	}
	client := e.client()
	p := pipeline.New(e.gate,
		summarize.New(client, summarize.Options{MaxDiffTokens: summarizeBudget(e.cfg.MaxDiffTokens), Logger: e.log}),
		commitmsg.New(client, e.log),
		pipeline.Options{
			Concurrency: pipelineConcurrency(e.cfg.Concurrency),
			Observer:    progress.New(progressOut),
			Logger:      e.log,
		})

	start := time.Now()
	results, runErr := p.RunAll(ctx, repos)
	e.log.Debug("generate finished", zap.Int("ok", len(results)), zap.Duration("elapsed", time.Since(start)))

	out := cmd.OutOrStdout()
	for _, res := range results {
		if len(repos) == 1 {
			fmt.Fprintln(out, res.Message)
		} else {
			fmt.Fprintf(out, "%s: %s\n", res.Root, res.Message)
		}
	}
	if hookPath != "" && len(results) == 1 {
		if err := git.WriteHookFile(hookPath, results[0].Message); err != nil {
			return err
		}
	}
	if runErr != nil {
		var merr *multierror.Error
		if !errors.As(runErr, &merr) {
			return runErr
		}
	}
	if err := multierror.Append(openErrs, runErr).ErrorOrNil(); err != nil {
		return reportErrors(cmd.ErrOrStderr(), err)
	}
	return nil
}

// reportErrors prints each error of a *multierror.Error on its own and
// returns errExit(1). Any other error is returned unchanged.
func reportErrors(w io.Writer, err error) error {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		return err
	}
	for _, e := range merr.Errors {
		printError(w, e)
	}
	return errExit(1)
}

// summarizeBudget maps config (0 = no truncation) onto summarize.Options
// (0 = default, negative = no truncation).
func summarizeBudget(maxDiffTokens int) int {
	if maxDiffTokens <= 0 {
		return -1
	}
	return maxDiffTokens
}

// requestTimeout maps config (0 = no timeout) onto openai.Options
// (0 = default, negative = no timeout).
func requestTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}

// pipelineConcurrency maps config (0 = unbounded) onto pipeline.Options
// (0 = default, negative = unbounded).
func pipelineConcurrency(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message [path]",
		Short: "Print the pending commit message of the repository at path (default: current directory)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMessage,
	}
	cmd.Flags().Bool("details", false, "Also print run id, time, and files of the last generation")
	return cmd
}

func runMessage(cmd *cobra.Command, args []string) error {
	dir, err := workingDir()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		dir = args[0]
	}
	e, err := setup(cmd, dir)
	if err != nil {
		return err
	}
	repo, err := git.Open(cmd.Context(), dir, e.cfg.GitBackend)
	if err != nil {
		return err
	}
	msg, err := repo.InputMessage(cmd.Context())
	if err != nil {
		return err
	}
	if msg == "" {
		return erruser.WithHint("No pending commit message.", "Generate one with: commitai generate", nil)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, msg)
	if details, _ := cmd.Flags().GetBool("details"); details {
		rec, err := session.Load(session.StateDir(repo.GitDir()))
		if err != nil {
			return err
		}
		if rec.RunID != "" {
			fmt.Fprintf(out, "\nRun: %s\nGenerated: %s\n", rec.RunID, rec.GeneratedAt.Local().Format(time.RFC3339))
			if len(rec.Files) > 0 {
				fmt.Fprintf(out, "Files: %s\n", strings.Join(rec.Files, ", "))
			}
		}
	}
	return nil
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Verify environment (Git, API key, completion endpoint)",
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cwd, err := workingDir()
	if err != nil {
		return err
	}
	e, err := setup(cmd, cwd)
	if err != nil {
		return err
	}
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	if e.cfg.GitBackend == git.BackendCLI {
		path, err := exec.LookPath("git")
		if err != nil {
			fmt.Fprintln(errOut, "Git not found on PATH. Install git or set git_backend = \"go-git\".")
			return errExit(1)
		}
		fmt.Fprintf(out, "Git OK (%s)\n", path)
	} else {
		fmt.Fprintln(out, "Git OK (go-git backend)")
	}

	ok, err := e.gate.Has(ctx)
	if err != nil {
		return erruser.New("Could not read the stored API key.", err)
	}
	if !ok {
		return credential.MissingError()
	}
	fmt.Fprintln(out, "API key set")

	result, err := e.client().Check(ctx)
	if err != nil {
		if errors.Is(err, openai.ErrUnreachable) {
			fmt.Fprintf(errOut, "Completion endpoint unreachable at %s. Check base_url and your network.\n", e.cfg.BaseURL)
			fmt.Fprintf(errOut, "Details: %v\n", err)
			return errExit(2)
		}
		if errors.Is(err, openai.ErrUnauthorized) {
			fmt.Fprintln(errOut, "The API key was rejected. Set a new one with: commitai set-key")
			fmt.Fprintf(errOut, "Details: %v\n", err)
			return errExit(1)
		}
		fmt.Fprintln(errOut, err.Error())
		return errExit(1)
	}
	if !result.ModelPresent {
		fmt.Fprintf(errOut, "Model %q is not available to this API key at %s.\n", openai.Model, e.cfg.BaseURL)
		return errExit(1)
	}
	fmt.Fprintf(out, "Endpoint OK (%s)\n", e.cfg.BaseURL)
	fmt.Fprintf(out, "Model: %s\n", openai.Model)
	return nil
}
