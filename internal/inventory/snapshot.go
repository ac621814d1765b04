package inventory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/hpungsan/syllabus/internal/manifest"
	"github.com/hpungsan/syllabus/internal/plan"
)

// Exclusion reasons reported on a snapshot.
const (
	ExcludeSourceError     = "source_error"
	ExcludeSourceMissing   = "source_missing"
	ExcludeSourceStale     = "source_stale"
	ExcludeCoverageStale   = "coverage_stale"
	ExcludeCoverageMissing = "coverage_missing"
)

// Candidate is a stored exam with its topics and the evaluated freshness of
// its coverage artifact. HasCoverage is false when no artifact was found.
type Candidate struct {
	Exam        plan.Exam
	Topics      []plan.Topic
	HasCoverage bool
	Coverage    manifest.Freshness
}

// ExclusionReason maps a freshness result to the reason an exam is left out.
func ExclusionReason(f manifest.Freshness) string {
	switch f.Reason {
	case manifest.ReasonSourceError:
		return ExcludeSourceError
	case manifest.ReasonSourceMissing, manifest.ReasonUnknownSource:
		return ExcludeSourceMissing
	case manifest.ReasonSourceUnprocessed, manifest.ReasonFingerprintChanged:
		return ExcludeSourceStale
	default:
		return ExcludeCoverageStale
	}
}

// Snapshot keeps exams whose coverage is effectively fresh and reports the
// rest as excluded. Exams are ordered by ID and topics by exam then their
// input order, so equal inventories always hash the same.
func Snapshot(cands []Candidate) plan.Inventory {
	sorted := append([]Candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Exam.ID < sorted[j].Exam.ID })

	inv := plan.Inventory{Exams: []plan.Exam{}, Topics: []plan.Topic{}}
	for _, c := range sorted {
		switch {
		case !c.HasCoverage:
			inv.Excluded = append(inv.Excluded, plan.ExcludedExam{ExamID: c.Exam.ID, Reason: ExcludeCoverageMissing})
		case !c.Coverage.Fresh:
			inv.Excluded = append(inv.Excluded, plan.ExcludedExam{
				ExamID:   c.Exam.ID,
				Reason:   ExclusionReason(c.Coverage),
				SourceID: c.Coverage.SourceID,
			})
		default:
			inv.Exams = append(inv.Exams, c.Exam)
			inv.Topics = append(inv.Topics, c.Topics...)
		}
	}
	inv.Hash = Hash(inv.Exams, inv.Topics)
	return inv
}

// Hash fingerprints the planning-relevant content of an inventory.
func Hash(exams []plan.Exam, topics []plan.Topic) string {
	payload := struct {
		Exams  []plan.Exam  `json:"exams"`
		Topics []plan.Topic `json:"topics"`
	}{exams, topics}
	data, err := json.Marshal(payload)
	if err != nil {
		// plan types always marshal
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
