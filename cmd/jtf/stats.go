package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abelbrown/jtfnews/internal/match"
	"github.com/abelbrown/jtfnews/internal/publish"
	"github.com/abelbrown/jtfnews/internal/queue"
)

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cfgPath := configFlag(fs)
	days := fs.Int("days", 7, "Days of API usage to show")
	fs.Parse(os.Args[1:])

	cfg := loadConfig(*cfgPath)
	st := openDB(cfg)
	defer st.Close()

	now := time.Now().UTC()
	stats, err := st.Stats(now)
	if err != nil {
		fatalf("%v", err)
	}

	q := queue.New(cfg.Path(queue.FileName), match.Default(), cfg.Verify.QueueTimeout, cfg.Verify.DuplicateWindow)
	if err := q.Load(); err != nil {
		fatalf("%v", err)
	}
	day, err := publish.ReadDay(cfg.Path(publish.StoriesFileName))
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Println(titleStyle.Render("JTF News - " + now.Format("2006-01-02")))
	fmt.Println(row("Stories (all time)", stats.Stories))
	fmt.Println(row("Stories today", stats.StoriesToday))
	fmt.Println(row("stories.json date", day.Date))
	fmt.Println(row("stories.json entries", len(day.Stories)))
	fmt.Println(row("Queued facts", q.Len()))
	undelivered := fmtValue(stats.Undelivered)
	if stats.Undelivered > 0 {
		undelivered = warnStyle.Render(undelivered)
	}
	fmt.Println(labelStyle.Render("Undelivered") + undelivered)
	fmt.Println(row("Processed headlines", stats.Processed))
	fmt.Println(row("Cached extractions", stats.CachedResponses))

	cost := fmt.Sprintf("$%.4f", stats.CostToday)
	if b := cfg.Extract.DailyBudget; b > 0 {
		cost += mutedStyle.Render(fmt.Sprintf(" of $%.2f", b))
		if stats.CostToday >= b*0.8 {
			cost = warnStyle.Render(cost)
		}
	}
	fmt.Println(labelStyle.Render("API cost today") + cost)

	usage, err := st.Usage(*days)
	if err != nil {
		fatalf("%v", err)
	}
	if len(usage) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(headerStyle.Render("API usage"))
	fmt.Println(cell(headerStyle, 12, "day") + cell(headerStyle, 10, "service") +
		cell(headerStyle, 8, "calls") + cell(headerStyle, 12, "in tok") +
		cell(headerStyle, 12, "out tok") + cell(headerStyle, 10, "cost"))
	for _, u := range usage {
		fmt.Println(cell(valueStyle, 12, u.Day) + cell(valueStyle, 10, u.Service) +
			cell(valueStyle, 8, fmtValue(u.Calls)) + cell(valueStyle, 12, fmtValue(u.InputTokens)) +
			cell(valueStyle, 12, fmtValue(u.OutputTokens)) + cell(valueStyle, 10, fmt.Sprintf("$%.4f", u.Cost)))
	}
}

func fmtValue(v any) string {
	switch x := v.(type) {
	case float64:
		return fmt.Sprintf("%.2f", x)
	case string:
		if x == "" {
			return "-"
		}
		return x
	}
	return fmt.Sprint(v)
}
