// Command jtfnews is the verification daemon. It runs a cycle every
// timing.cycle_interval until interrupted or until the kill switch file
// appears, and serves /health, /status and /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/abelbrown/jtfnews/internal/alert"
	"github.com/abelbrown/jtfnews/internal/config"
	"github.com/abelbrown/jtfnews/internal/engine"
	"github.com/abelbrown/jtfnews/internal/extract"
	"github.com/abelbrown/jtfnews/internal/fetch"
	"github.com/abelbrown/jtfnews/internal/logging"
	"github.com/abelbrown/jtfnews/internal/publish"
	"github.com/abelbrown/jtfnews/internal/telegram"
)

func main() {
	configPath := flag.String("config", envOrDefault("JTF_CONFIG", "jtfnews.yaml"), "Path to the YAML config")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	addr := flag.String("addr", "", "Status listener address (overrides http.addr, \"off\" disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jtfnews: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	if err := logging.Init(cfg.DataDir, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "jtfnews: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	if err := run(cfg, *once); err != nil {
		logging.Error("jtfnews stopped", "err", err)
		logging.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, once bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := newProvider(cfg.Extract)
	if err != nil {
		return err
	}

	opts := engine.Options{
		Fetcher:  fetch.NewRSSFetcher(cfg.Timing.FetchTimeout),
		Provider: provider,
	}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.AlertChatID != 0 {
		bot, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.AlertChatID)
		if err != nil {
			logging.Warn("telegram alerts disabled", "err", err)
		} else {
			opts.AlertSender = bot
		}
	}
	if opts.AlertSender == nil {
		opts.AlertSender = alert.LogSender{}
	}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChannelID != 0 {
		bot, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChannelID)
		if err != nil {
			logging.Warn("telegram channel disabled", "err", err)
		} else {
			opts.Consumers = append(opts.Consumers, publish.NewChannel(bot.WithHTML()))
		}
	}

	eng, err := engine.New(cfg, opts)
	if err != nil {
		return err
	}
	if err := eng.Init(); err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logging.Error("shutdown incomplete", "err", err)
		}
	}()

	if once {
		st, err := eng.RunCycle(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("cycle %s: fetched=%d extracted=%d queued=%d published=%d corroborated=%d expired=%d\n",
			st.ID, st.Fetched, st.Extracted, st.Queued, st.Published, st.Corroborated, st.Expired)
		return nil
	}

	if cfg.HTTP.Addr != "" && cfg.HTTP.Addr != "off" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           eng.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logging.Info("status listener started", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("status listener failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			srv.Shutdown(shutdownCtx)
		}()
	}

	err = eng.Run(ctx)
	switch {
	case errors.Is(err, engine.ErrKillSwitch):
		logging.Warn("kill switch found, exiting", "path", cfg.KillSwitch)
		return nil
	case errors.Is(err, context.Canceled):
		logging.Info("interrupted, shutting down")
		return nil
	}
	return err
}

// newProvider builds the configured extraction backend.
func newProvider(c config.ExtractConfig) (extract.Provider, error) {
	switch strings.ToLower(c.Provider) {
	case "claude", "anthropic", "":
		p := extract.NewClaudeProvider(c.AnthropicKey, c.Model)
		if !p.Available() {
			return nil, errors.New("extract.provider is claude but ANTHROPIC_API_KEY is not set")
		}
		return p, nil
	case "openai":
		model := c.Model
		if strings.HasPrefix(model, "claude") {
			model = ""
		}
		p := extract.NewOpenAIProvider(c.OpenAIKey, model)
		if !p.Available() {
			return nil, errors.New("extract.provider is openai but OPENAI_API_KEY is not set")
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown extract.provider %q", c.Provider)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
