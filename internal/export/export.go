// Package export renders a stored study plan into human and spreadsheet
// formats. Renderers write to an io.Writer; placing the file on disk is the
// caller's job.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hpungsan/syllabus/internal/plan"
)

// Format is an export file format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatCSV      Format = "csv"
	FormatXLSX     Format = "xlsx"
	FormatJSON     Format = "json"
)

// Formats lists every supported format.
var Formats = []Format{FormatMarkdown, FormatHTML, FormatCSV, FormatXLSX, FormatJSON}

// ParseFormat resolves a format name. "markdown" is accepted for md and the
// empty string defaults to md.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown export format %q (want md, html, csv, xlsx or json)", s)
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string { return "." + string(f) }

// Document is everything a renderer needs about one plan.
type Document struct {
	PlanID      string        `json:"plan_id"`
	CreatedAt   time.Time     `json:"created_at"`
	Feasibility string        `json:"feasibility"`
	Complete    bool          `json:"complete"`
	Schedule    plan.Schedule `json:"schedule"`
	Exams       []plan.Exam   `json:"exams"`
	Topics      []plan.Topic  `json:"topics"`
}

// Write renders d in format f.
func Write(w io.Writer, f Format, d Document) error {
	switch f {
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(d))
		return err
	case FormatHTML:
		return writeHTML(w, d)
	case FormatCSV:
		return writeCSV(w, d)
	case FormatXLSX:
		return writeXLSX(w, d)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	return fmt.Errorf("unknown export format %q", f)
}

// row is one scheduled entry flattened for tabular output.
type row struct {
	Date       plan.Date
	Exam       string
	Chapter    string
	Objective  string
	Tier       plan.Tier
	Minutes    int
	Confidence float64
	Compressed bool
}

func (d Document) rows() []row {
	topics := d.topicIndex()
	exams := plan.ExamByID(d.Exams)

	var out []row
	for _, day := range d.Schedule.Days {
		for _, e := range day.Entries {
			t := topics[e.TopicID]
			out = append(out, row{
				Date:       day.Date,
				Exam:       examLabel(exams[e.ExamID], e.ExamID),
				Chapter:    t.Chapter,
				Objective:  objective(t, e.TopicID),
				Tier:       e.Tier,
				Minutes:    e.AllocatedMinutes,
				Confidence: t.Confidence,
				Compressed: e.Compressed,
			})
		}
	}
	return out
}

func (d Document) topicIndex() map[string]plan.Topic {
	idx := make(map[string]plan.Topic, len(d.Topics))
	for _, t := range d.Topics {
		idx[t.ID] = t
	}
	return idx
}

type examStats struct {
	Label   string
	Topics  int
	Minutes int
}

// examBreakdown sums scheduled work per exam, ordered by exam ID.
func (d Document) examBreakdown() []examStats {
	exams := plan.ExamByID(d.Exams)
	byID := make(map[string]*examStats)
	var ids []string
	for _, day := range d.Schedule.Days {
		for _, e := range day.Entries {
			s, ok := byID[e.ExamID]
			if !ok {
				s = &examStats{Label: examLabel(exams[e.ExamID], e.ExamID)}
				byID[e.ExamID] = s
				ids = append(ids, e.ExamID)
			}
			s.Topics++
			s.Minutes += e.AllocatedMinutes
		}
	}
	sort.Strings(ids)
	out := make([]examStats, len(ids))
	for i, id := range ids {
		out[i] = *byID[id]
	}
	return out
}

func examLabel(e plan.Exam, id string) string {
	switch {
	case e.Course != "" && e.Name != "":
		return e.Course + " " + e.Name
	case e.Name != "":
		return e.Name
	}
	return id
}

func objective(t plan.Topic, id string) string {
	if t.Objective != "" {
		return t.Objective
	}
	return id
}

func hours(minutes int) string {
	return fmt.Sprintf("%.1fh", float64(minutes)/60)
}
