// Package output provides adapters for writing run reports.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MyCarrier-DevOps/git-expired-branch/internal/domain"
)

// Format selects the report encoding.
type Format string

// Supported report formats.
const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatYAML, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unsupported output format %q", domain.ErrConfiguration, name)
	}
}

// Writer writes run reports to the configured output destination.
// By default, it writes text to stdout.
type Writer struct {
	out    io.Writer
	format Format
}

// NewWriter creates a new Writer that writes text to stdout.
func NewWriter() *Writer {
	return &Writer{out: os.Stdout, format: FormatText}
}

// NewWriterWithOutput creates a new Writer with a custom output destination and format.
func NewWriterWithOutput(out io.Writer, format Format) *Writer {
	if format == "" {
		format = FormatText
	}
	return &Writer{out: out, format: format}
}

// WriteReport renders report in the writer's format.
func (w *Writer) WriteReport(report *domain.RunReport) error {
	view := newReportView(report)
	switch w.format {
	case FormatYAML:
		enc := yaml.NewEncoder(w.out)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	default:
		return writeText(w.out, view)
	}
}

type reportView struct {
	RunID      string       `yaml:"runId" json:"runId"`
	Operation  string       `yaml:"operation" json:"operation"`
	StartedAt  time.Time    `yaml:"startedAt" json:"startedAt"`
	FinishedAt time.Time    `yaml:"finishedAt" json:"finishedAt"`
	Canceled   bool         `yaml:"canceled" json:"canceled"`
	Counts     countsView   `yaml:"counts" json:"counts"`
	Branches   []resultView `yaml:"branches" json:"branches"`
}

type countsView struct {
	Total    int `yaml:"total" json:"total"`
	Expired  int `yaml:"expired" json:"expired"`
	Deleted  int `yaml:"deleted" json:"deleted"`
	Notified int `yaml:"notified" json:"notified"`
	Failed   int `yaml:"failed" json:"failed"`
	Skipped  int `yaml:"skipped" json:"skipped"`
}

type resultView struct {
	Branch        string    `yaml:"branch" json:"branch"`
	LastCommit    time.Time `yaml:"lastCommit" json:"lastCommit"`
	Author        string    `yaml:"author,omitempty" json:"author,omitempty"`
	Recipient     string    `yaml:"recipient,omitempty" json:"recipient,omitempty"`
	Archived      bool      `yaml:"archived" json:"archived"`
	ArchiveBranch string    `yaml:"archiveBranch,omitempty" json:"archiveBranch,omitempty"`
	Deleted       bool      `yaml:"deleted" json:"deleted"`
	Notified      bool      `yaml:"notified" json:"notified"`
	AdminNotified bool      `yaml:"adminNotified,omitempty" json:"adminNotified,omitempty"`
	Stage         string    `yaml:"stage,omitempty" json:"stage,omitempty"`
	ErrorKind     string    `yaml:"errorKind,omitempty" json:"errorKind,omitempty"`
	Error         string    `yaml:"error,omitempty" json:"error,omitempty"`
}

func newReportView(r *domain.RunReport) reportView {
	view := reportView{
		RunID:      r.RunID,
		Operation:  string(r.Operation),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Canceled:   r.Canceled,
		Counts: countsView{
			Total:    r.Counts.Total,
			Expired:  r.Counts.Expired,
			Deleted:  r.Counts.Deleted,
			Notified: r.Counts.Notified,
			Failed:   r.Counts.Failed,
			Skipped:  r.Counts.Skipped,
		},
		Branches: make([]resultView, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		rv := resultView{
			Branch:        res.Branch.ShortName(),
			LastCommit:    res.Branch.LastCommitTimestamp,
			Author:        res.Branch.LastCommitAuthorEmail,
			Recipient:     res.Recipient,
			Archived:      res.Archived,
			ArchiveBranch: res.Archive.Branch,
			Deleted:       res.Deleted,
			Notified:      res.Notified,
			AdminNotified: res.AdminNotified,
			Stage:         string(res.Stage),
			ErrorKind:     string(res.ErrorKind),
		}
		if res.Error != nil {
			rv.Error = res.Error.Error()
		}
		view.Branches = append(view.Branches, rv)
	}
	return view
}

func writeText(out io.Writer, v reportView) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s run %s\n", v.Operation, v.RunID)
	fmt.Fprintf(tw, "total: %d\texpired: %d\tdeleted: %d\tnotified: %d\tfailed: %d\tskipped: %d\n",
		v.Counts.Total, v.Counts.Expired, v.Counts.Deleted, v.Counts.Notified, v.Counts.Failed, v.Counts.Skipped)
	if v.Canceled {
		fmt.Fprintln(tw, "run canceled before all branches were processed")
	}
	if len(v.Branches) > 0 {
		fmt.Fprintln(tw, "BRANCH\tLAST COMMIT\tRECIPIENT\tDELETED\tNOTIFIED\tERROR")
	}
	for _, b := range v.Branches {
		errText := "-"
		if b.Error != "" {
			errText = fmt.Sprintf("%s (%s): %s", b.ErrorKind, b.Stage, b.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%s\n",
			b.Branch, b.LastCommit.Format("2006-01-02"), b.Recipient, b.Deleted, b.Notified, errText)
	}
	return tw.Flush()
}
