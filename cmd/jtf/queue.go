package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abelbrown/jtfnews/internal/match"
	"github.com/abelbrown/jtfnews/internal/queue"
)

func runQueue() {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Parse(os.Args[1:])

	cfg := loadConfig(*cfgPath)
	q := queue.New(cfg.Path(queue.FileName), match.Default(), cfg.Verify.QueueTimeout, cfg.Verify.DuplicateWindow)
	if err := q.Load(); err != nil {
		fatalf("%v", err)
	}

	entries := q.Entries()
	fmt.Println(titleStyle.Render(fmt.Sprintf("Queue (%d waiting)", len(entries))))
	if len(entries) == 0 {
		return
	}
	now := time.Now()
	fmt.Println(cell(headerStyle, 18, "hash") + cell(headerStyle, 12, "source") +
		cell(headerStyle, 8, "age") + cell(headerStyle, 10, "expires") + headerStyle.Render("fact"))
	for _, e := range entries {
		left := e.ExpiresAt.Sub(now)
		style := okStyle
		if left < time.Hour {
			style = warnStyle
		}
		fmt.Println(cell(mutedStyle, 18, e.FactHash) + cell(valueStyle, 12, e.Fact.SourceID) +
			cell(valueStyle, 8, fmtDuration(now.Sub(e.FirstSeenAt))) +
			cell(style, 10, fmtDuration(left)) + truncate(e.Fact.FactText, 80))
	}
}

func fmtDuration(d time.Duration) string {
	if d < 0 {
		return "due"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
