package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/goterm/internal/files"
	"github.com/dmitrijs2005/goterm/internal/hostkey"
	"github.com/dmitrijs2005/goterm/internal/metrics"
	"github.com/dmitrijs2005/goterm/internal/models"
	"github.com/dmitrijs2005/goterm/internal/mysql"
	"github.com/dmitrijs2005/goterm/internal/session"
	"github.com/dmitrijs2005/goterm/internal/transfer"
	"github.com/dustin/go-humanize"
)

func (a *App) table(header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

func (a *App) printProfiles(items []models.Profile) {
	tw := a.table("ID", "NAME", "TARGET", "AUTH", "POLICY")
	for _, p := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s@%s:%d\t%s\t%s\n", p.ID, p.Name, p.Username, p.Host, p.Port, p.AuthType, p.KnownHostsPolicy)
	}
	_ = tw.Flush()
}

func (a *App) printSessions(items []session.Status) {
	tw := a.table("SESSION", "PROFILE", "STATE", "ERROR")
	for _, s := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.SessionID, s.ProfileID, s.State, s.LastError)
	}
	_ = tw.Flush()
}

func (a *App) printEntries(items []files.Entry) {
	tw := a.table("MODE", "SIZE", "MODIFIED", "NAME")
	for _, e := range items {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Mode, humanize.IBytes(uint64(max(e.Size, 0))), e.ModTime.Format(time.DateTime), name)
	}
	_ = tw.Flush()
}

func (a *App) printTasks(items []transfer.Task) {
	tw := a.table("TASK", "DIR", "STATE", "PROGRESS", "REMOTE", "LOCAL")
	for _, t := range items {
		progress := humanize.IBytes(uint64(t.DoneBytes))
		if t.TotalBytes > 0 {
			progress = fmt.Sprintf("%s / %s", progress, humanize.IBytes(uint64(t.TotalBytes)))
		}
		state := string(t.State)
		if t.Error != "" {
			state += ": " + t.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Direction, state, progress, t.RemotePath, t.LocalPath)
	}
	_ = tw.Flush()
}

func (a *App) printChallenges(items []hostkey.Challenge) {
	tw := a.table("REQUEST", "HOST", "KEY", "FINGERPRINT", "AGE")
	for _, c := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.RequestID, c.Host, c.KeyType, c.Fingerprint, humanize.Time(c.CreatedAt))
	}
	_ = tw.Flush()
}

func (a *App) printMySQLProfiles(items []models.MySQLProfile) {
	tw := a.table("ID", "NAME", "TARGET", "VIA", "TLS")
	for _, p := range items {
		via := "direct"
		if p.ConnectionType == models.ConnectionSSHTunnel {
			via = "ssh " + p.SSHProfileID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s@%s:%d\t%s\t%s\n", p.ID, p.Name, p.Username, p.Host, p.Port, via, p.TLS.Mode)
	}
	_ = tw.Flush()
}

func (a *App) printNames(names []string) {
	for _, n := range names {
		fmt.Fprintln(a.out, n)
	}
}

func (a *App) printColumns(cols []mysql.Column) {
	tw := a.table("FIELD", "TYPE", "NULL", "KEY", "DEFAULT", "EXTRA")
	for _, c := range cols {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Name, c.Type, c.Nullable, c.Key, c.Default, c.Extra)
	}
	_ = tw.Flush()
}

func (a *App) printRows(columns []string, rows [][]string, truncated bool) {
	tw := a.table(columns...)
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
	suffix := ""
	if truncated {
		suffix = ", more available"
	}
	fmt.Fprintf(a.out, "(%d row(s)%s)\n", len(rows), suffix)
}

func (a *App) printQueryResult(res mysql.QueryResult) {
	switch r := res.(type) {
	case *mysql.RowsResult:
		a.printRows(r.Columns, r.Rows, r.Truncated)
	case *mysql.ExecResult:
		fmt.Fprintf(a.out, "%d row(s) affected, last insert id %d\n", r.AffectedRows, r.LastInsertID)
	}
	fmt.Fprintf(a.out, "took %s\n", res.Elapsed())
}

func (a *App) printStats(st metrics.Stats) {
	fmt.Fprintf(a.out, "cpu: %.1f%%", st.CPU.Total)
	for i, c := range st.CPU.PerCore {
		fmt.Fprintf(a.out, "  #%d %.0f%%", i, c)
	}
	fmt.Fprintln(a.out)
	fmt.Fprintf(a.out, "memory: %s used of %s (%.1f%%), %s free\n",
		humanize.IBytes(st.Memory.Used), humanize.IBytes(st.Memory.Total), st.Memory.UsedPercent, humanize.IBytes(st.Memory.Free))
}
