package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/abelbrown/jtfnews/internal/config"
	"github.com/abelbrown/jtfnews/internal/store"
)

// configFlag registers the shared -config flag on fs.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", envOrDefault("JTF_CONFIG", "jtfnews.yaml"), "Path to the YAML config")
}

// loadConfig loads the config or exits.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fatalf("load config: %v", err)
	}
	return cfg
}

// openDB opens the story database or exits.
func openDB(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.Path(store.FileName))
	if err != nil {
		fatalf("open database: %v", err)
	}
	return st
}

func fatalf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+fmt.Sprintf(format, args...)))
	os.Exit(1)
}

// envOrDefault returns the environment variable value or a fallback.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// truncate shortens a string to max runes, appending "..." if truncated.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
