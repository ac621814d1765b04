package manifest

// Reasons an artifact is not effectively fresh.
const (
	ReasonFlagged            = "flagged_stale"
	ReasonUnknownSource      = "unknown_source"
	ReasonSourceMissing      = "source_missing"
	ReasonSourceError        = "source_error"
	ReasonSourceUnprocessed  = "source_unprocessed"
	ReasonFingerprintChanged = "fingerprint_changed"
)

// Freshness is the evaluated state of one artifact.
type Freshness struct {
	Fresh    bool   `json:"fresh"`
	Reason   string `json:"reason,omitempty"`
	SourceID string `json:"source_id,omitempty"`
}

// EvaluateFreshness reports whether a is effectively fresh: its stored flag
// is set and every owner is processed with the fingerprint it had when a was
// registered. The first failing check decides the reason; owners are checked
// in sorted order.
func EvaluateFreshness(a ArtifactRef, sources map[string]SourceRecord) Freshness {
	if !a.Fresh {
		return Freshness{Reason: ReasonFlagged}
	}

	owners := make(map[string]string, len(a.Owners))
	for _, o := range a.Owners {
		owners[o.SourceID] = o.Fingerprint
	}
	for _, id := range a.OwnerIDs() {
		src, ok := sources[id]
		switch {
		case !ok:
			return Freshness{Reason: ReasonUnknownSource, SourceID: id}
		case src.Missing:
			return Freshness{Reason: ReasonSourceMissing, SourceID: id}
		case src.Status == StatusError:
			return Freshness{Reason: ReasonSourceError, SourceID: id}
		case src.Status != StatusProcessed:
			return Freshness{Reason: ReasonSourceUnprocessed, SourceID: id}
		case src.Fingerprint != owners[id]:
			return Freshness{Reason: ReasonFingerprintChanged, SourceID: id}
		}
	}
	return Freshness{Fresh: true}
}
