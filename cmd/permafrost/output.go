package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"permafrost/internal/model"
	"permafrost/internal/pf"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printRoots(w io.Writer, roots []*model.RootDirectory) {
	tw := newTable(w)
	fmt.Fprintln(tw, "PATH\tDEPTH\tWATCHED")
	for _, r := range roots {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Path, r.Depth, humanize.Time(r.CreatedAt))
	}
	tw.Flush()
}

func printScanReport(w io.Writer, r *pf.ScanReport) {
	fmt.Fprintf(w, "Scan: %s new, %s changed, %s unchanged, %s removed\n",
		humanize.Comma(int64(r.Created)),
		humanize.Comma(int64(r.Updated)),
		humanize.Comma(int64(r.Unchanged)),
		humanize.Comma(int64(r.Deleted)),
	)
}

func printStatuses(w io.Writer, statuses []*pf.DirectoryStatus) {
	tw := newTable(w)
	fmt.Fprintln(tw, "STATE\tDIRECTORY\tARCHIVE\tARCHIVED")
	for _, s := range statuses {
		archive, archived := "-", "-"
		if s.Archive != nil {
			archive = s.Archive.ID
			archived = humanize.Time(s.Archive.CreatedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.State, s.Directory.Path, archive, archived)
	}
	tw.Flush()
}

func printListing(w io.Writer, l *pf.Listing) {
	fmt.Fprintf(w, "Repository %s (%s), modified %s\n",
		l.Repository.Location, l.Repository.ID, humanize.Time(l.Repository.LastModified))
	if len(l.Entries) == 0 {
		fmt.Fprintln(w, "No snapshots.")
		return
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "SNAPSHOT\tTAKEN\tARCHIVE\tDIRECTORY")
	untracked := 0
	for _, e := range l.Entries {
		archive, path := "untracked", "-"
		if e.Untracked() {
			untracked++
		} else {
			archive, path = e.Archive.ID, e.Archive.SourcePath
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Snapshot.Name, humanize.Time(e.Snapshot.Start), archive, path)
	}
	tw.Flush()
	if untracked > 0 {
		fmt.Fprintf(w, "%s not in the catalog; rerun update for the affected directories\n",
			english.Plural(untracked, "snapshot is", "snapshots are"))
	}
}

func printBatch(w io.Writer, verb string, r *pf.BatchResult) {
	for _, o := range r.Outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(w, "FAILED   %s: %v\n", o.Directory.Path, o.Err)
		case o.Archive == nil:
			fmt.Fprintf(w, "DRY RUN  %s\n", o.Directory.Path)
		default:
			fmt.Fprintf(w, "OK       %s -> %s\n", o.Directory.Path, o.Archive.EngineArchiveName)
		}
	}
	fmt.Fprintf(w, "%s %s\n", english.Plural(r.Succeeded(), "directory", "directories"), verb)
}

func printHistory(w io.Writer, ops []*model.Operation) {
	for _, op := range ops {
		duration := ""
		if op.FinishedAt.Valid {
			d := op.FinishedAt.Time.Sub(op.StartedAt)
			duration = d.Truncate(time.Millisecond).String()
		}
		fmt.Fprintf(w, "#%d  %-10s  %s  %-8s  %s  %s\n",
			op.ID,
			op.Operation,
			op.StartedAt.Format("2006-01-02 15:04:05"),
			op.Status,
			duration,
			op.Parameters,
		)
	}
}
