package export

import (
	"fmt"
	"strings"

	"github.com/hpungsan/syllabus/internal/plan"
)

// Markdown renders the plan as a markdown document grouped by day and tier.
func Markdown(d Document) string {
	var b strings.Builder
	s := d.Schedule

	names := make([]string, 0, len(d.Exams))
	for _, e := range d.Exams {
		names = append(names, examLabel(e, e.ID))
	}
	fmt.Fprintf(&b, "# Study Plan: %s\n\n", strings.Join(names, ", "))

	b.WriteString("## Plan Overview\n\n")
	b.WriteString("| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Plan ID | `%s` |\n", d.PlanID)
	if !d.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "| Created | %s |\n", d.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "| Date Range | %s to %s |\n", s.Start, s.End)
	fmt.Fprintf(&b, "| Study Days | %d |\n", len(s.Days))
	fmt.Fprintf(&b, "| Total Hours | %s |\n", hours(s.TotalMinutes()))
	fmt.Fprintf(&b, "| Topics Scheduled | %d |\n", len(s.Coverage))
	fmt.Fprintf(&b, "| Strategy | %s |\n", s.Strategy)
	if d.Feasibility != "" {
		fmt.Fprintf(&b, "| Feasibility | %s |\n", d.Feasibility)
	}
	b.WriteString("\n")

	if breakdown := d.examBreakdown(); len(breakdown) > 0 {
		b.WriteString("## Exam Breakdown\n\n")
		for _, e := range breakdown {
			fmt.Fprintf(&b, "### %s\n- Topics: %d\n- Time: %s (%d minutes)\n\n", e.Label, e.Topics, hours(e.Minutes), e.Minutes)
		}
	}

	topics := d.topicIndex()
	exams := plan.ExamByID(d.Exams)

	b.WriteString("---\n\n## Daily Schedule\n\n")
	for _, day := range s.Days {
		fmt.Fprintf(&b, "### %s, %s\n", day.Date.Weekday(), day.Date)
		fmt.Fprintf(&b, "**Total:** %d of %d minutes, %d topics\n\n", day.TotalMinutes, day.Capacity, len(day.Entries))

		n := 1
		for _, tier := range plan.Tiers {
			var entries []plan.Entry
			for _, e := range day.Entries {
				if e.Tier == tier {
					entries = append(entries, e)
				}
			}
			if len(entries) == 0 {
				continue
			}
			fmt.Fprintf(&b, "**%s**\n\n", tier.Label())
			for _, e := range entries {
				t := topics[e.TopicID]
				title := objective(t, e.TopicID)
				if t.Chapter != "" {
					title = t.Chapter + ": " + title
				}
				fmt.Fprintf(&b, "%d. %s - %s (%d min", n, examLabel(exams[e.ExamID], e.ExamID), title, e.AllocatedMinutes)
				if e.Compressed {
					b.WriteString(", compressed")
				}
				b.WriteString(")\n")
				n++
			}
			b.WriteString("\n")
		}
	}

	if len(s.Unplaced) > 0 {
		b.WriteString("---\n\n## Not Scheduled\n\n")
		b.WriteString("| Topic | Exam | Tier | Minutes | Deadline | Reason |\n")
		b.WriteString("|-------|------|------|---------|----------|--------|\n")
		for _, u := range s.Unplaced {
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s | %s |\n",
				objective(topics[u.TopicID], u.TopicID), examLabel(exams[u.ExamID], u.ExamID),
				u.Tier, u.EffortMinutes, u.Deadline, u.Reason)
		}
		b.WriteString("\n")
	}

	return b.String()
}
