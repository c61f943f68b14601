/*
Package cmd contains the cobra commands of the sigchat terminal client.

This file defines the root command, which connects to the signaling server and runs an
interactive chat session on standard input and output.
*/
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sigchat/internal/app/chat"
	"sigchat/internal/app/session"
	"sigchat/internal/app/store"
	"sigchat/internal/configs"
	"sigchat/internal/pkg/logx"
	"sigchat/internal/pkg/randx"
	"sigchat/internal/protocol"
)

var (
	serverFlag   string
	usernameFlag string
	modeFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "sigchat",
	Short: "Terminal client for sigchat",
	Long: `sigchat connects to a signaling server and joins its chat room.

Commands inside a session:
  /to <userId>     Address following messages to one user (/to alone returns to everyone)
  /file <path>     Send a file
  /typing          Signal that you are typing
  /users           Show who is online
  /quit            Leave the chat

Configuration is read from the environment (and a .env file); flags take precedence.`,
	SilenceUsage: true,
	RunE:         runChat,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&serverFlag, "server", "s", "", "signaling server URL (overrides SIGNALING_URL)")
	rootCmd.Flags().StringVarP(&usernameFlag, "username", "u", "", "display name (random when empty)")
	rootCmd.Flags().StringVarP(&modeFlag, "mode", "m", "", "chat mode: broadcast or direct (overrides CHAT_MODE)")
}

func runChat(cmd *cobra.Command, _ []string) error {
	if err := configs.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := configs.LoadClientConfig()
	if err != nil {
		return err
	}

	if serverFlag != "" {
		cfg.SignalingURL = serverFlag
	}
	if modeFlag != "" {
		if cfg.Mode, err = store.ParseMode(modeFlag); err != nil {
			return err
		}
	}

	username := usernameFlag
	if username == "" {
		if username, err = randx.Nickname(); err != nil {
			return err
		}
	}

	// stdout belongs to the conversation
	logx.InitGlobalLogger(os.Stderr, cfg.IsDevelopment())

	client := chat.NewClient(sessionOptions(cfg))
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connecting to %s as %s...\n", cfg.SignalingURL, username)

	if err := client.Connect(ctx, cfg.SignalingURL, username); err != nil {
		return err
	}

	return newSession(client, out).run(ctx, cmd.InOrStdin())
}

// sessionOptions maps the client configuration onto the session manager options.
func sessionOptions(cfg *configs.ClientConfig) session.Options {
	opts := session.DefaultOptions()
	opts.Mode = cfg.Mode
	opts.ConnectTimeout = cfg.ConnectTimeout
	opts.ReconnectBaseDelay = cfg.ReconnectBaseDelay
	opts.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	opts.TypingExpiry = cfg.TypingExpiry
	return opts
}

// healthCheckInterval is how often the session checks that the connection is still usable.
const healthCheckInterval = 5 * time.Second

// chatSession wires standard input commands to the client and renders its state.
type chatSession struct {
	client   *chat.Client
	typing   *chat.TypingNotifier
	renderer *renderer
	out      io.Writer

	healthEvery time.Duration

	// target is the user id that plain messages are addressed to, empty for everyone.
	target string
}

func newSession(client *chat.Client, out io.Writer) *chatSession {
	return &chatSession{
		client:   client,
		typing:   chat.NewTypingNotifier(client, chat.DefaultTypingStopDelay),
		renderer: newRenderer(out),
		out:      out,

		healthEvery: healthCheckInterval,
	}
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	updates, cancel := s.client.Subscribe()
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	health := time.NewTicker(s.healthEvery)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			s.client.Disconnect()
			return nil

		case <-health.C:
			if s.connectionLost() {
				return nil
			}

		case state := <-updates:
			s.renderer.render(state)

		case err := <-s.client.Diagnostics():
			fmt.Fprintf(s.out, "! %v\n", err)

		case line, ok := <-lines:
			if !ok {
				s.client.Disconnect()
				return nil
			}
			if quit := s.handleLine(strings.TrimSpace(line)); quit {
				s.typing.Stop()
				s.client.Disconnect()
				return nil
			}
		}
	}
}

// connectionLost reports whether the connection is down with no reconnect left to try.
// In that case it signs the user out and prints a notice.
func (s *chatSession) connectionLost() bool {
	if s.client.IsActive() {
		return false
	}
	if s.client.ReconnectStatus().Policy != session.PolicyGivenUp {
		return false
	}

	s.typing.Stop()
	s.client.Disconnect()
	fmt.Fprintln(s.out, "* connection to the server was lost, you have been signed out")
	return true
}

// handleLine executes one line of input and reports whether the user asked to quit.
func (s *chatSession) handleLine(line string) bool {
	if line == "" {
		return false
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/quit":
		return true

	case "/to":
		s.typing.Stop()
		s.target = arg
		if arg == "" {
			fmt.Fprintln(s.out, "* messages now go to everyone")
		} else {
			fmt.Fprintf(s.out, "* messages now go to %s\n", s.renderer.nameOf(s.client.State(), arg))
		}

	case "/users":
		s.renderer.printRoster(s.client.State())

	case "/typing":
		s.typing.Keystroke(s.target)

	case "/file":
		s.typing.Stop()
		attachment, err := chat.NewFileAttachment(arg)
		if err != nil {
			fmt.Fprintf(s.out, "! %v\n", err)
			return false
		}
		if _, err := s.client.PostMessage("", protocol.KindFile, attachment, s.target); err != nil {
			fmt.Fprintf(s.out, "! %v\n", err)
		}

	default:
		if strings.HasPrefix(command, "/") {
			fmt.Fprintf(s.out, "! unknown command %s\n", command)
			return false
		}
		s.typing.Stop()
		if _, err := s.client.PostMessage(line, protocol.KindText, nil, s.target); err != nil {
			fmt.Fprintf(s.out, "! %v\n", err)
		}
	}

	return false
}
