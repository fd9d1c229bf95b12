package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/abelbrown/jtfnews/internal/ratings"
)

func runRatings() {
	fs := flag.NewFlagSet("ratings", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Parse(os.Args[1:])

	cfg := loadConfig(*cfgPath)
	events, bad, err := ratings.ReadAudit(filepath.Join(cfg.DataDir, ratings.AuditFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fatalf("%v", err)
	}
	counts := ratings.Replay(events)

	type line struct {
		id, name, owner, display, compact string
		rating                            float64
		c                                 ratings.Counts
	}
	var lines []line
	for _, src := range cfg.Sources {
		c := counts[src.ID]
		r, _ := ratings.Compute(src.BaselineRating, c, cfg.Verify.ColdStartThreshold)
		lines = append(lines, line{
			id:      src.ID,
			name:    src.Name,
			owner:   src.OwnerGroup,
			display: ratings.Display(src.BaselineRating, c, cfg.Verify.ColdStartThreshold),
			compact: ratings.Compact(src.BaselineRating, src.Bias, c, cfg.Verify.ColdStartThreshold),
			rating:  r,
			c:       c,
		})
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].rating != lines[j].rating {
			return lines[i].rating > lines[j].rating
		}
		return lines[i].id < lines[j].id
	})

	fmt.Println(titleStyle.Render(fmt.Sprintf("Source ratings (%d audit events)", len(events))))
	fmt.Println(cell(headerStyle, 14, "source") + cell(headerStyle, 24, "owner") +
		cell(headerStyle, 16, "rating") + cell(headerStyle, 10, "scores") +
		cell(headerStyle, 8, "ok") + cell(headerStyle, 8, "failed"))
	for _, l := range lines {
		style := valueStyle
		switch {
		case l.c.Total() == 0:
			style = mutedStyle
		case l.rating < 5:
			style = warnStyle
		}
		fmt.Println(cell(valueStyle, 14, l.id) + cell(mutedStyle, 24, l.owner) +
			cell(style, 16, l.display) + cell(valueStyle, 10, l.compact) +
			cell(okStyle, 8, fmtValue(l.c.Successes)) + cell(valueStyle, 8, fmtValue(l.c.Failures)))
	}
	if len(bad) > 0 {
		fmt.Println()
		fmt.Println(warnStyle.Render(fmt.Sprintf("%d unreadable audit lines skipped (run jtf verify-audit)", len(bad))))
	}
}
