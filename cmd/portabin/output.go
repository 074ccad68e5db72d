package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/ZebulonRouseFrantzich/portabin/internal/download"
	"github.com/ZebulonRouseFrantzich/portabin/internal/transaction"
	"github.com/dustin/go-humanize"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// progressPrinter reports each artifact once when its transfer completes.
// Workers call it concurrently.
type progressPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	done map[string]bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, done: make(map[string]bool)}
}

func (p *progressPrinter) report(id string, done, total int64) {
	if total <= 0 || done < total {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done[id] {
		return
	}
	p.done[id] = true
	fmt.Fprintf(p.w, "  fetched %s (%s)\n", id, humanize.Bytes(uint64(total)))
}

func (p *progressPrinter) progressFunc() download.ProgressFunc {
	return p.report
}

// printPlan lists the changes of txn.
func printPlan(w io.Writer, txn *transaction.Transaction) {
	for _, s := range txn.Skipped {
		fmt.Fprintf(w, "  %s unchanged\n", s)
	}
	for _, c := range txn.Changes {
		fmt.Fprintf(w, "  %s\n", c.String())
	}
}

// printReport summarizes an executed transaction.
func printReport(w io.Writer, report *transaction.Report) {
	var size int64
	for _, pkg := range report.Installed {
		size += pkg.Size
	}
	for _, res := range report.Downloads {
		if res.Resumed {
			fmt.Fprintf(w, "  resumed %s\n", res.ID)
		}
	}
	var parts []string
	if n := len(report.Installed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d installed (%s)", n, humanize.Bytes(uint64(size))))
	}
	if n := len(report.Removed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", n))
	}
	if len(parts) == 0 {
		parts = append(parts, "nothing to do")
	}
	fmt.Fprintln(w, strings.Join(parts, ", "))
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
