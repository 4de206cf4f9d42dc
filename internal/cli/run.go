package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/spf13/cobra"

	"github.com/arif/kestrel/internal/config"
	"github.com/arif/kestrel/internal/logger"
	"github.com/arif/kestrel/pkg/agent"
	"github.com/arif/kestrel/pkg/assertion"
	"github.com/arif/kestrel/pkg/commitment"
	"github.com/arif/kestrel/pkg/messenger"
	"github.com/arif/kestrel/pkg/permission"
)

var (
	runMode      string
	runCommits   []string
	runMaxRounds int
	runWorkDir   string
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a single agent turn",
	Long: `Run sends one prompt to the configured backend and drives the turn to
a terminal state. Commitments declared with --commit must pass before
the turn is accepted as done; failures are fed back to the model.

Tool-use approvals are answered interactively on this terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "permission mode for this run only (does not persist)")
	runCmd.Flags().StringArrayVar(&runCommits, "commit", nil, `commitment as "description::assertion" (repeatable)`)
	runCmd.Flags().IntVar(&runMaxRounds, "max-rounds", -1, "max feedback rounds, 0 for unbounded (-1 uses config)")
	runCmd.Flags().StringVar(&runWorkDir, "dir", "", "working directory for assertion commands")
	rootCmd.AddCommand(runCmd)
}

// overrideMode pins the permission mode for one invocation without
// touching the persisted state file.
type overrideMode permission.Mode

func (m overrideMode) Mode() permission.Mode { return permission.Mode(m) }

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   false,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer lg.Close()

	store, err := permission.NewStore(cfg.Permissions.StateFile)
	if err != nil {
		return err
	}

	if cfg.Permissions.Watch {
		watcher, werr := permission.NewStoreWatcher(store, 200*time.Millisecond)
		if werr == nil {
			if werr = watcher.Start(); werr == nil {
				defer watcher.Stop()
			}
		}
	}

	var modes permission.ModeSource = store
	if runMode != "" {
		mode := permission.Mode(runMode)
		if !mode.Valid() {
			return fmt.Errorf("invalid permission mode %q (must be one of: %v)", runMode, permission.ValidModes)
		}
		modes = overrideMode(mode)
	}

	engine := permission.NewEngine(modes, store.Rules())
	broker := permission.NewBroker(store, 16)
	defer broker.Close()

	workDir := runWorkDir
	if workDir == "" {
		workDir = cfg.Verification.WorkingDir
	}
	verifier := commitment.NewVerifier(
		&assertion.HostRunner{},
		commitment.WithTimeout(time.Duration(cfg.Verification.TimeoutSeconds)*time.Second),
		commitment.WithWorkingDir(workDir),
	)

	backend, err := buildMessenger(cfg)
	if err != nil {
		return err
	}

	maxRounds := cfg.Verification.MaxFeedbackRounds
	if runMaxRounds >= 0 {
		maxRounds = runMaxRounds
	}

	a, err := agent.New(agent.Config{
		Name:      "kestrel",
		Messenger: backend,
		Engine:    engine,
		Broker:    broker,
		Verifier:  verifier,
		Limiter:   agent.NewLimiter(cfg.QueryLimit),
		Sink:      &consoleSink{out: os.Stdout, status: os.Stderr},
		Retry:     agent.RetryPolicy{MaxFeedbackRounds: maxRounds},
	})
	if err != nil {
		return err
	}

	for _, spec := range runCommits {
		description, assertionCmd, perr := parseCommitment(spec)
		if perr != nil {
			return perr
		}
		if _, err := a.Commitments().Declare(description, assertionCmd); err != nil {
			return err
		}
	}

	if cfg.Verification.RetrySchedule != "" {
		scheduler, serr := commitment.NewRetryScheduler(verifier, func() []*commitment.Set {
			return []*commitment.Set{a.Commitments()}
		}, cfg.Verification.RetrySchedule)
		if serr != nil {
			return serr
		}
		if serr := scheduler.Start(); serr != nil {
			return serr
		}
		defer scheduler.Stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go answerApprovals(broker, os.Stdin, os.Stderr)

	if err := a.Send(ctx, args[0]); err != nil {
		return err
	}

	fmt.Println()
	printOutcome(a)
	return nil
}

// buildMessenger constructs the configured backend
func buildMessenger(cfg *config.Config) (messenger.Messenger, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %s", cfg.Provider.Name)
	}

	switch cfg.Provider.Name {
	case "anthropic":
		opts := []messenger.AnthropicOption{
			messenger.WithMaxTokens(int64(cfg.Provider.MaxTokens)),
		}
		if cfg.Provider.Model != "" {
			opts = append(opts, messenger.WithModel(anthropic.Model(cfg.Provider.Model)))
		}
		if cfg.Provider.SystemPrompt != "" {
			opts = append(opts, messenger.WithSystemPrompt(cfg.Provider.SystemPrompt))
		}
		return messenger.NewAnthropicMessenger(cfg.Provider.APIKey, opts...), nil

	case "openai":
		opts := []messenger.OpenAIOption{
			messenger.WithOpenAIMaxTokens(int64(cfg.Provider.MaxTokens)),
		}
		if cfg.Provider.Model != "" {
			opts = append(opts, messenger.WithOpenAIModel(openai.ChatModel(cfg.Provider.Model)))
		}
		if cfg.Provider.SystemPrompt != "" {
			opts = append(opts, messenger.WithOpenAISystemPrompt(cfg.Provider.SystemPrompt))
		}
		return messenger.NewOpenAIMessenger(cfg.Provider.APIKey, opts...), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

// parseCommitment splits a --commit flag value into its two halves
func parseCommitment(spec string) (description, assertionCmd string, err error) {
	parts := strings.SplitN(spec, "::", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf(`invalid --commit %q: expected "description::assertion"`, spec)
	}
	return parts[0], parts[1], nil
}

// answerApprovals services approval requests on the terminal until the
// broker closes.
func answerApprovals(broker *permission.Broker, in *os.File, out *os.File) {
	reader := bufio.NewReader(in)

	for req := range broker.Requests() {
		fmt.Fprintf(out, "\n%s wants to run: %s\nallow? [y]es / [a]lways / [N]o: ", req.Agent, req.Description)

		line, err := reader.ReadString('\n')
		if err != nil {
			// Stdin is gone; deny and keep draining so asks don't hang.
			broker.Resolve(req.ID, permission.ApprovalResponse{})
			continue
		}

		var resp permission.ApprovalResponse
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			resp.Approved = true
		case "a", "always":
			resp.Approved = true
			resp.AlwaysAllow = true
		}

		if err := broker.Resolve(req.ID, resp); err != nil {
			// The ask may have been cancelled while we waited for input.
			fmt.Fprintf(out, "approval no longer pending: %v\n", err)
		}
	}
}

// printOutcome reports the terminal state and commitment results
func printOutcome(a *agent.Agent) {
	fmt.Printf("state: %s\n", a.State())

	usage := a.Usage()
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		fmt.Printf("tokens: %d in / %d out\n", usage.InputTokens, usage.OutputTokens)
	}

	for _, c := range a.Commitments().List() {
		if c.FailureMessage != "" {
			fmt.Printf("commitment %q: %s (%s)\n", c.Description, c.Status, c.FailureMessage)
		} else {
			fmt.Printf("commitment %q: %s\n", c.Description, c.Status)
		}
	}
}

// consoleSink renders stream events for the terminal. Text goes to
// stdout; everything else is status noise and goes to stderr.
type consoleSink struct {
	out    *os.File
	status *os.File
}

func (s *consoleSink) OnEvent(name string, ev messenger.StreamEvent) {
	switch ev := ev.(type) {
	case messenger.TextDelta:
		fmt.Fprint(s.out, ev.Text)
	case messenger.ToolUse:
		fmt.Fprintf(s.status, "\n[%s] tool: %s\n", name, ev.Name)
	case messenger.ToolResult:
		if ev.IsError {
			fmt.Fprintf(s.status, "[%s] tool failed: %s\n", name, ev.Content)
		}
	case messenger.Failed:
		fmt.Fprintf(s.status, "[%s] stream failed: %v\n", name, ev.Err)
	}
}

func (s *consoleSink) OnStateChange(name string, from, to agent.State) {
	fmt.Fprintf(s.status, "[%s] %s -> %s\n", name, from, to)
}
