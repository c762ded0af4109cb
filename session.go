package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chainlens-core/server/internal/agent/providers"
	logx "github.com/chainlens-core/server/pkg/logger"
)

type agentBuilder func(ctx context.Context, cfg AppConfig, st *stores, sel *providers.Selector) (*agent, error)

// session is one interactive conversation. Switching the provider rebuilds the
// agent; the old agent keeps the provider it resolved.
type session struct {
	cfg      AppConfig
	st       *stores
	selector *providers.Selector
	build    agentBuilder
	agent    *agent
}

func newSession(ctx context.Context, cfg AppConfig, st *stores, build agentBuilder) (*session, error) {
	sel := providers.NewSelector(providers.DefaultRegistry(), cfg.Provider)
	a, err := build(ctx, cfg, st, sel)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, st: st, selector: sel, build: build, agent: a}, nil
}

// command runs a "/" line. handled is false for ordinary questions.
func (s *session) command(ctx context.Context, line string, out io.Writer) (handled bool, err error) {
	if !strings.HasPrefix(line, "/") {
		return false, nil
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/provider":
		if len(fields) == 1 {
			printProviders(out, s.selector)
			return true, nil
		}
		if err := s.switchProvider(ctx, fields[1]); err != nil {
			return true, err
		}
		webhooks := "available"
		if !s.agent.webhooks {
			webhooks = "unavailable"
		}
		fmt.Fprintf(out, "provider: %s (webhooks %s)\n", s.agent.provider, webhooks)
		return true, nil
	default:
		fmt.Fprintf(out, "unknown command %s (try /provider [name])\n", fields[0])
		return true, nil
	}
}

// switchProvider selects name and rebuilds the agent. On a failed rebuild the
// previous selection and agent stay in place.
func (s *session) switchProvider(ctx context.Context, name string) error {
	prev := s.selector.Current()
	if err := s.selector.Select(name); err != nil {
		return err
	}
	a, err := s.build(ctx, s.cfg, s.st, s.selector)
	if err != nil {
		logx.Error().Err(err).Str("provider", name).Msg("Rebuilding agent failed, keeping previous provider")
		if revertErr := s.selector.Select(prev); revertErr != nil {
			logx.Error().Err(revertErr).Str("provider", prev).Msg("Error restoring provider")
		}
		return err
	}
	s.agent = a
	return nil
}

func printProviders(out io.Writer, sel *providers.Selector) {
	for _, name := range sel.Available() {
		mark := " "
		if name == sel.Current() {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %s\n", mark, name)
	}
}
