package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/abelbrown/jtfnews/internal/publish"
	"github.com/abelbrown/jtfnews/internal/ratings"
)

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	cfgPath := configFlag(fs)
	date := fs.String("date", "", "Day to rebuild stories.json for, YYYY-MM-DD (default: today UTC)")
	skipRatings := fs.Bool("no-ratings", false, "Only rebuild stories.json")
	fs.Parse(os.Args[1:])

	cfg := loadConfig(*cfgPath)

	day := time.Now().UTC()
	if *date != "" {
		d, err := time.Parse("2006-01-02", *date)
		if err != nil {
			fatalf("bad -date: %v", err)
		}
		day = d
	}

	st := openDB(cfg)
	stories, err := st.StoriesOn(day)
	st.Close()
	if err != nil {
		fatalf("%v", err)
	}
	out := publish.Rebuild(day, stories)
	if err := publish.WriteDay(cfg.Path(publish.StoriesFileName), out); err != nil {
		fatalf("%v", err)
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("stories.json rebuilt for %s: %d stories", out.Date, len(out.Stories))))

	if *skipRatings {
		return
	}

	// Opening the ledger replays the audit log; closing it rewrites the cache.
	rs, drift, err := ratings.Open(cfg.DataDir, cfg.Sources, cfg.Verify.ColdStartThreshold)
	if err != nil {
		fatalf("%v", err)
	}
	if err := rs.Close(); err != nil {
		fatalf("%v", err)
	}
	msg := fmt.Sprintf("%s rebuilt from the audit log", ratings.CacheFile)
	if len(drift) > 0 {
		msg += fmt.Sprintf(" (%d sources corrected)", len(drift))
	}
	fmt.Println(okStyle.Render(msg))
}
