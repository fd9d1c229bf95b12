package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/abelbrown/jtfnews/internal/ratings"
)

func runVerifyAudit() {
	fs := flag.NewFlagSet("verify-audit", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Parse(os.Args[1:])

	cfg := loadConfig(*cfgPath)
	drift, bad, err := ratings.Verify(cfg.DataDir)
	if err != nil {
		fatalf("%v", err)
	}

	for _, n := range bad {
		fmt.Println(warnStyle.Render(fmt.Sprintf("line %d: unreadable, ignored on replay", n)))
	}
	if len(drift) == 0 {
		fmt.Println(okStyle.Render("ratings cache matches the audit log"))
		return
	}
	fmt.Println(cell(headerStyle, 14, "source") + cell(headerStyle, 14, "cache") + cell(headerStyle, 14, "audit"))
	for _, d := range drift {
		fmt.Println(cell(valueStyle, 14, d.SourceID) +
			cell(errorStyle, 14, fmt.Sprintf("%d/%d", d.Cached.Successes, d.Cached.Total())) +
			cell(okStyle, 14, fmt.Sprintf("%d/%d", d.Audit.Successes, d.Audit.Total())))
	}
	fmt.Println()
	fmt.Println(mutedStyle.Render("The audit log wins. Run 'jtf rebuild' to rewrite the cache."))
	os.Exit(2)
}
