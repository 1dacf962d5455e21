package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/harun/alzassist/pkg/agentcli"
	"github.com/harun/alzassist/pkg/chat"
	"github.com/spf13/cobra"
)

var (
	askSession string
	askQuiet   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question from the terminal",
	Long: `Run a single agent turn and stream its output.
The answer goes to stdout and tool activity to stderr. Without arguments the
question is read from stdin. Pass --session with the key printed by an
earlier ask to continue that conversation.`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "resume the session with this key")
	askCmd.Flags().BoolVarP(&askQuiet, "quiet", "q", false, "do not print tool activity")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read question: %w", err)
		}
		question = strings.TrimSpace(string(data))
	}
	if question == "" {
		return chat.ErrEmptyMessage
	}

	key := askSession
	if key != "" {
		if err := chat.ValidateSessionKey(key); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lg, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer lg.Close()
	log := lg.Zerolog()

	filter, err := newPromptFilter(cfg.Moderation)
	if err != nil {
		return err
	}
	if err := filter.CheckPrompt(question); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrBlockedMessage, err)
	}

	if err := provisionCredentials(cfg.Credentials, log); err != nil {
		return err
	}
	orchestrator, err := newOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	if key == "" {
		key = uuid.NewString()
	} else {
		// the agent already knows this session from an earlier run
		orchestrator.Registry().Confirm(key)
	}

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	sink := agentcli.SerializeSink(func(line agentcli.Line) {
		switch {
		case line.Stream == agentcli.StreamPrimary:
			fmt.Fprintln(out, line.Text)
		case !askQuiet:
			fmt.Fprintln(errOut, line.Text)
		}
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := orchestrator.RunTurn(ctx, agentcli.TurnRequest{
		SessionKey: key,
		Input:      question,
		Sink:       sink,
	}); err != nil {
		return err
	}

	fmt.Fprintf(errOut, "\nsession: %s (continue with: alzassist ask --session %s)\n", key, key)
	return nil
}
