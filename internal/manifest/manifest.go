// Package manifest models tracked source files and the artifacts derived
// from them, and holds the pure algorithms over that graph: fingerprinting,
// scan diffs, bounded invalidation walks and freshness evaluation.
package manifest

import (
	"sort"
	"strings"
)

// Status is the processing status of a SourceRecord.
type Status string

const (
	StatusNew       Status = "new"
	StatusProcessed Status = "processed"
	StatusStale     Status = "stale"
	StatusError     Status = "error"
)

// Label is a document classification. The set is closed.
type Label string

const (
	LabelTextbook     Label = "textbook"
	LabelExamOverview Label = "exam_overview"
	LabelSyllabus     Label = "syllabus"
	LabelLectureNotes Label = "lecture_notes"
	LabelPracticeExam Label = "practice_exam"
	LabelOther        Label = "other"
	LabelUnknown      Label = "unknown"
)

var labels = map[Label]bool{
	LabelTextbook: true, LabelExamOverview: true, LabelSyllabus: true, LabelLectureNotes: true,
	LabelPracticeExam: true, LabelOther: true, LabelUnknown: true,
}

// ValidLabel reports whether l is in the closed label set.
func ValidLabel(l Label) bool {
	return labels[l]
}

// Kind is the type of a derived artifact. The set is closed.
type Kind string

const (
	KindExtractedText    Kind = "extracted_text"
	KindClassification   Kind = "classification"
	KindChapterStructure Kind = "chapter_structure"
	KindChunkSet         Kind = "chunk_set"
	KindCoverage         Kind = "coverage"
	KindEnrichment       Kind = "enrichment"
	KindSchedule         Kind = "schedule"
)

// Kinds lists every artifact kind in pipeline order.
var Kinds = []Kind{
	KindExtractedText, KindClassification, KindChapterStructure, KindChunkSet,
	KindCoverage, KindEnrichment, KindSchedule,
}

// ValidKind reports whether k is a known artifact kind.
func ValidKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// SourceRecord is one tracked input file. Records are never deleted; a file
// that disappears is flagged Missing and kept so its path keeps its ID.
type SourceRecord struct {
	ID                   string   `json:"id"`
	Path                 string   `json:"path"`
	Fingerprint          string   `json:"fingerprint"`
	Size                 int64    `json:"size"`
	ModifiedAt           int64    `json:"modified_at"`
	Label                Label    `json:"label"`
	Status               Status   `json:"status"`
	Derived              []string `json:"derived,omitempty"`
	Error                string   `json:"error,omitempty"`
	Missing              bool     `json:"missing,omitempty"`
	ProcessedFingerprint string   `json:"processed_fingerprint,omitempty"`
	CreatedAt            int64    `json:"created_at"`
	UpdatedAt            int64    `json:"updated_at"`
}

// Owner is a source an artifact depends on, with the fingerprint the source
// had when the artifact was registered.
type Owner struct {
	SourceID    string `json:"source_id"`
	Fingerprint string `json:"fingerprint"`
}

// ArtifactRef is one derived output. Identity for registration is
// (Kind, sorted owner IDs, Subject).
type ArtifactRef struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"kind"`
	Owners      []Owner  `json:"owners"`
	Inputs      []string `json:"inputs,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Location    string   `json:"location"`
	Fresh       bool     `json:"fresh"`
	StaleReason string   `json:"stale_reason,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// OwnerIDs returns the artifact's owning source IDs in sorted order.
func (a *ArtifactRef) OwnerIDs() []string {
	ids := make([]string, len(a.Owners))
	for i, o := range a.Owners {
		ids[i] = o.SourceID
	}
	sort.Strings(ids)
	return ids
}

// OwnerKey returns the canonical form of a set of owner IDs: trimmed,
// deduplicated, sorted and comma-joined.
func OwnerKey(ids []string) string {
	return strings.Join(SortedUnique(ids), ",")
}

// SortedUnique trims, deduplicates and sorts ids, dropping empty entries.
func SortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
