// Package inventory reads the exam and topic lists produced by upstream
// enrichment and builds the snapshots the scheduler plans against.
package inventory

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/syllabus/internal/plan"
)

// Document is the YAML inventory input.
type Document struct {
	Exams []ExamInput `yaml:"exams"`
}

// ExamInput is one exam as written in the input file. Sources are paths
// relative to the scanned directory.
type ExamInput struct {
	ID       string       `yaml:"id"`
	Name     string       `yaml:"name"`
	Course   string       `yaml:"course"`
	Deadline string       `yaml:"deadline"`
	Sources  []string     `yaml:"sources"`
	Topics   []TopicInput `yaml:"topics"`
}

// TopicInput is one topic. EffortMinutes of 0 means "estimate it";
// Confidence defaults to 1.
type TopicInput struct {
	ID               string   `yaml:"id"`
	Chapter          string   `yaml:"chapter"`
	Objective        string   `yaml:"objective"`
	EffortMinutes    int      `yaml:"effort_minutes"`
	Tier             string   `yaml:"tier"`
	Confidence       *float64 `yaml:"confidence"`
	PracticeProblems int      `yaml:"practice_problems"`
}

// Parse decodes and validates an inventory document.
func Parse(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, fmt.Errorf("inventory: document is empty")
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("inventory: decode: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Validate checks IDs, dates, tiers, efforts and confidences. Topic IDs
// must be unique across the whole document.
func (d Document) Validate() error {
	if len(d.Exams) == 0 {
		return fmt.Errorf("inventory: no exams")
	}
	examIDs := make(map[string]bool)
	topicIDs := make(map[string]string)
	for i, e := range d.Exams {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return fmt.Errorf("inventory: exams[%d]: id is required", i)
		}
		if examIDs[id] {
			return fmt.Errorf("inventory: duplicate exam id %q", id)
		}
		examIDs[id] = true
		if _, err := plan.ParseDate(strings.TrimSpace(e.Deadline)); err != nil {
			return fmt.Errorf("inventory: exam %q: deadline: %w", id, err)
		}
		for j, t := range e.Topics {
			tid := topicID(id, j, t)
			if owner, dup := topicIDs[tid]; dup {
				return fmt.Errorf("inventory: topic id %q used by exams %q and %q", tid, owner, id)
			}
			topicIDs[tid] = id
			if _, err := plan.ParseTier(t.Tier); err != nil {
				return fmt.Errorf("inventory: topic %q: %w", tid, err)
			}
			if t.EffortMinutes < 0 {
				return fmt.Errorf("inventory: topic %q: effort_minutes must be >= 0", tid)
			}
			if t.Confidence != nil && (*t.Confidence < 0 || *t.Confidence > 1) {
				return fmt.Errorf("inventory: topic %q: confidence must be in [0, 1]", tid)
			}
			if t.PracticeProblems < 0 {
				return fmt.Errorf("inventory: topic %q: practice_problems must be >= 0", tid)
			}
		}
	}
	return nil
}

// topicID returns the declared ID or "<exam>-<position>" (1-based).
func topicID(examID string, index int, t TopicInput) string {
	if id := strings.TrimSpace(t.ID); id != "" {
		return id
	}
	return fmt.Sprintf("%s-%d", examID, index+1)
}

// Model converts a validated exam into its plan form. Topics inherit the
// exam deadline; missing efforts are estimated.
func (e ExamInput) Model() (plan.Exam, []plan.Topic, error) {
	id := strings.TrimSpace(e.ID)
	deadline, err := plan.ParseDate(strings.TrimSpace(e.Deadline))
	if err != nil {
		return plan.Exam{}, nil, fmt.Errorf("inventory: exam %q: %w", id, err)
	}
	exam := plan.Exam{
		ID:       id,
		Name:     strings.TrimSpace(e.Name),
		Course:   strings.TrimSpace(e.Course),
		Deadline: deadline,
	}
	if exam.Name == "" {
		exam.Name = id
	}

	topics := make([]plan.Topic, 0, len(e.Topics))
	for i, t := range e.Topics {
		tier, err := plan.ParseTier(t.Tier)
		if err != nil {
			return plan.Exam{}, nil, fmt.Errorf("inventory: exam %q: %w", id, err)
		}
		confidence := 1.0
		if t.Confidence != nil {
			confidence = *t.Confidence
		}
		effort := t.EffortMinutes
		if effort == 0 {
			effort = EstimateEffort(t.Chapter, t.PracticeProblems, confidence)
		}
		topics = append(topics, plan.Topic{
			ID:            topicID(id, i, t),
			ExamID:        id,
			Chapter:       strings.TrimSpace(t.Chapter),
			Objective:     strings.TrimSpace(t.Objective),
			EffortMinutes: effort,
			Tier:          tier,
			Confidence:    confidence,
			Deadline:      deadline,
		})
	}
	return exam, topics, nil
}

// EstimateEffort is the fallback effort heuristic: 30 minutes, plus 20 for
// more than two practice problems (10 for one or two), plus 15 for
// foundational chapters 1-3, plus 10 when evidence confidence is below 0.7.
func EstimateEffort(chapter string, practiceProblems int, confidence float64) int {
	minutes := 30
	switch {
	case practiceProblems > 2:
		minutes += 20
	case practiceProblems > 0:
		minutes += 10
	}
	if n, ok := chapterNumber(chapter); ok && n >= 1 && n <= 3 {
		minutes += 15
	}
	if confidence < 0.7 {
		minutes += 10
	}
	return minutes
}

// chapterNumber reads the leading integer of references like "3", "3.2",
// "Ch 3" or "chapter 12".
func chapterNumber(ref string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(ref))
	s = strings.TrimPrefix(s, "chapter")
	s = strings.TrimPrefix(s, "ch.")
	s = strings.TrimPrefix(s, "ch")
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
