package reconcile

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/identity-cli/internal/identity"
	"github.com/sells-group/identity-cli/internal/merge"
)

// Output formats accepted by Render.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Summary aggregates the outcome of one reconciliation run.
type Summary struct {
	RunID           string    `json:"run_id" yaml:"run_id"`
	StartedAt       time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time `json:"finished_at" yaml:"finished_at"`
	DurationSeconds float64   `json:"duration_seconds" yaml:"duration_seconds"`

	IdentitiesTotal int64                 `json:"identities_total" yaml:"identities_total"`
	SchemaCreated   []string              `json:"schema_created,omitempty" yaml:"schema_created,omitempty"`
	Link            identity.LinkReport   `json:"link" yaml:"link"`
	Legacy          identity.LegacyReport `json:"legacy" yaml:"legacy"`
	Merges          []merge.Report        `json:"merges" yaml:"merges"`
}

// Totals are the headline counters of a Summary.
type Totals struct {
	Linked        int   `json:"linked" yaml:"linked"`
	Created       int   `json:"created" yaml:"created"`
	Merged        int   `json:"merged" yaml:"merged"`
	LegacyFilled  int64 `json:"legacy_filled" yaml:"legacy_filled"`
	Ambiguous     int   `json:"ambiguous" yaml:"ambiguous"`
	Failures      int   `json:"failures" yaml:"failures"`
	RowsRewritten int64 `json:"rows_rewritten" yaml:"rows_rewritten"`
}

// Totals sums the per-type counters.
func (s *Summary) Totals() Totals {
	var t Totals
	for _, k := range identity.Kinds {
		r := s.Link.For(k)
		t.Linked += r.Linked
		t.Created += r.Created
		t.Ambiguous += r.Ambiguous
		t.Failures += r.Failed
	}
	for _, m := range s.Merges {
		t.Merged += m.Merged
		t.Failures += m.Failed
		t.RowsRewritten += m.RowsRewritten
	}
	t.LegacyFilled = s.Legacy.Total()
	return t
}

// MergeFor returns the merge report of an entity, or a zero report.
func (s *Summary) MergeFor(entity string) merge.Report {
	for _, m := range s.Merges {
		if m.Entity == entity {
			return m
		}
	}
	return merge.Report{Entity: entity}
}

func (s *Summary) finish(now time.Time) {
	s.FinishedAt = now
	s.DurationSeconds = now.Sub(s.StartedAt).Seconds()
}

// Log writes the summary as one structured log line.
func (s *Summary) Log() {
	t := s.Totals()
	fields := []zap.Field{
		zap.String("run_id", s.RunID),
		zap.Float64("duration_seconds", s.DurationSeconds),
		zap.Int64("identities_total", s.IdentitiesTotal),
		zap.Int("linked", t.Linked),
		zap.Int("created", t.Created),
		zap.Int("merged", t.Merged),
		zap.Int64("legacy_filled", t.LegacyFilled),
		zap.Int("ambiguous", t.Ambiguous),
		zap.Int("failures", t.Failures),
	}
	for _, k := range identity.Kinds {
		r := s.Link.For(k)
		m := s.MergeFor(k.Table())
		fields = append(fields, zap.Dict(k.Table(),
			zap.Int("linked", r.Linked),
			zap.Int("created", r.Created),
			zap.Int("merged", m.Merged),
		))
	}
	zap.L().Info("reconciliation complete", fields...)
}

// ValidFormat reports whether format is accepted by Render.
func ValidFormat(format string) bool {
	switch format {
	case FormatTable, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// Render writes the summary to w as a table, JSON or YAML.
func (s *Summary) Render(w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(s), "reconcile: encode json")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return eris.Wrap(err, "reconcile: encode yaml")
		}
		return eris.Wrap(enc.Close(), "reconcile: encode yaml")
	case FormatTable, "":
		return s.renderTable(w)
	default:
		return eris.Errorf("reconcile: unknown output format %q", format)
	}
}

func (s *Summary) renderTable(out io.Writer) error {
	t := s.Totals()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "Run:\t%s\n", s.RunID)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", time.Duration(s.DurationSeconds*float64(time.Second)).Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "Identities:\t%d\n", s.IdentitiesTotal)
	_, _ = fmt.Fprintf(w, "Legacy pointers filled:\t%d\n", t.LegacyFilled)
	_, _ = fmt.Fprintf(w, "Ambiguous matches:\t%d\n", t.Ambiguous)
	_, _ = fmt.Fprintf(w, "Failures:\t%d\n", t.Failures)
	if len(s.SchemaCreated) > 0 {
		_, _ = fmt.Fprintf(w, "Schema created:\t%s\n", strings.Join(s.SchemaCreated, ", "))
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "TYPE\tLINKED\tCREATED\tBY PHONE\tBY EMAIL\tENRICHED\tLINK FAILED\tGROUPS\tMERGED\tROWS MOVED\tDISCARDED\tMERGE FAILED")
	for _, k := range identity.Kinds {
		r := s.Link.For(k)
		m := s.MergeFor(k.Table())
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			k.Table(), r.Linked, r.Created, r.MatchedPhone, r.MatchedEmail, r.Enriched, r.Failed,
			m.Groups, m.Merged, m.RowsRewritten, m.ConflictsDiscarded, m.Failed)
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t%d\t%d\t\t\t\t\t\t%d\t%d\t\t\n", t.Linked, t.Created, t.Merged, t.RowsRewritten)
	return w.Flush()
}
