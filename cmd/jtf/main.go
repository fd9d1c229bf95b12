// Command jtf is the maintenance CLI for the jtfnews data directory.
//
// Usage:
//
//	jtf                     Show help
//	jtf stats               Archive, delivery and spend summary
//	jtf ratings             Source ratings replayed from the audit log
//	jtf queue               Facts waiting for a second source
//	jtf rebuild             Regenerate stories.json and learned_ratings.json
//	jtf verify-audit        Compare the ratings cache with the audit log
//	jtf events              JSONL event log viewer
//	jtf trace <fact_hash>   Every event recorded for one fact
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/abelbrown/jtfnews/internal/logging"
)

const usage = `jtf - JTF News maintenance CLI

Usage:
  jtf <command> [flags]

Commands:
  stats         Archive, delivery and API spend summary
  ratings       Source ratings replayed from the audit log
  queue         Facts waiting for a second independent source
  rebuild       Regenerate stories.json from the archive and the ratings cache from the audit log
  verify-audit  Compare learned_ratings.json with ratings_audit.jsonl
  events        JSONL event log viewer
  trace         Show every event recorded for one fact hash

Environment:
  JTF_CONFIG    Config file (default: jtfnews.yaml)
  JTF_DATA_DIR  Data directory (overrides data_dir)

Run 'jtf <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	logging.InitWriter(os.Stderr, log.WarnLevel)

	cmd := os.Args[1]
	// Strip the program name so flag sets see only their flags
	os.Args = os.Args[1:]

	switch cmd {
	case "stats":
		runStats()
	case "ratings":
		runRatings()
	case "queue":
		runQueue()
	case "rebuild":
		runRebuild()
	case "verify-audit":
		runVerifyAudit()
	case "events":
		runEvents()
	case "trace":
		runTrace()
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "jtf: unknown command %q\n\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}
}
