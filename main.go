package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chainlens-core/server/internal/agent/model"
	"github.com/chainlens-core/server/internal/agent/providers"
	"github.com/chainlens-core/server/internal/webhook"
	logx "github.com/chainlens-core/server/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	var cfg AppConfig

	root := &cobra.Command{
		Use:          "chainlens",
		Short:        "Conversational blockchain analytics agent",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := loadConfig(envFile)
			if err != nil {
				return fmt.Errorf("failed to process environment config: %w", err)
			}
			cfg = loaded
			logx.Init(logx.LoggerOpts{Environment: cfg.Env, Level: cfg.LogLevel})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newAskCmd(&cfg),
		newProvidersCmd(&cfg),
		newServeWebhooksCmd(&cfg),
	)
	return root
}

func newAskCmd(cfg *AppConfig) *cobra.Command {
	var (
		conversationID string
		mentionFile    string
		provider       string
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the agent a question; without arguments, read questions from stdin line by line",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if provider != "" {
				cfg.Provider.Server = provider
			}
			mentioned, err := readMentioned(mentionFile)
			if err != nil {
				return err
			}

			st, err := openStores(ctx, *cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			sess, err := newSession(ctx, *cfg, st, newAgent)
			if err != nil {
				return err
			}
			if conversationID == "" {
				conversationID = uuid.NewString()
			}

			out := cmd.OutOrStdout()
			ask := func(q string) error {
				reply, err := sess.agent.runner.Invoke(ctx, model.QueryInput{
					ConversationID: conversationID,
					Query:          q,
					Mentioned:      mentioned,
				})
				if reply == nil {
					return err
				}
				return printReply(out, reply, asJSON)
			}

			if len(args) > 0 {
				return ask(strings.Join(args, " "))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "conversation %s (/provider [name] to switch, Ctrl-D to quit)\n", conversationID)
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				q := strings.TrimSpace(sc.Text())
				if q == "" {
					continue
				}
				handled, err := sess.command(ctx, q, out)
				if err != nil {
					fmt.Fprintf(out, "  error: %s\n", err)
					continue
				}
				if handled {
					continue
				}
				if err := ask(q); err != nil {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			return sc.Err()
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation ID (a new one is generated when empty)")
	cmd.Flags().StringVar(&mentionFile, "mentioned", "", "JSON file with mentioned visualizations")
	cmd.Flags().StringVar(&provider, "provider", "", "tool provider override ("+strings.Join(providers.DefaultRegistry().Names(), ", ")+")")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full reply as JSON")
	return cmd
}

func newProvidersCmd(cfg *AppConfig) *cobra.Command {
	var showTools bool
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List tool providers; the selected one is marked with *",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel := providers.NewSelector(providers.DefaultRegistry(), cfg.Provider)
			out := cmd.OutOrStdout()
			printProviders(out, sel)
			if !showTools {
				return nil
			}
			p, err := sel.Resolve()
			if err != nil {
				return err
			}
			tools, err := p.ListTools(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s tools:\n", p.Name())
			for _, t := range tools {
				fmt.Fprintf(out, "  %-45s %s\n", t.Name, firstLine(t.Description))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showTools, "tools", false, "also list the tools of the selected provider")
	return cmd
}

func newServeWebhooksCmd(cfg *AppConfig) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-webhooks",
		Short: "Receive provider webhook notifications and serve the events API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStores(ctx, *cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if addr == "" {
				addr = cfg.Webhook.Addr
			}
			return webhook.NewAPI(st.events).Serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to WEBHOOK_ADDR)")
	return cmd
}

func readMentioned(path string) ([]model.MentionedVisualization, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mentioned visualizations: %w", err)
	}
	var out []model.MentionedVisualization
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse mentioned visualizations: %w", err)
	}
	return out, nil
}

func printReply(w io.Writer, reply *model.Reply, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	fmt.Fprintln(w, reply.Text)
	for _, v := range reply.Visualizations {
		if v.Success {
			fmt.Fprintf(w, "  figure: %s (data: %s)\n", v.OutputPNGPath, v.FilePath)
		}
	}
	if !reply.Success && reply.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", reply.Error)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
