package reconcile

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/ashureev/neonrun/internal/domain"
)

// DegradeReason explains why a turn fell back to prior state.
type DegradeReason string

const (
	ReasonNone      DegradeReason = ""
	ReasonMissing   DegradeReason = "missing"
	ReasonMalformed DegradeReason = "malformed"
)

const statusField = "status"

// Result is the outcome of reconciling one turn of model output.
type Result struct {
	Narrative string
	Stats     domain.Stats
	Status    domain.Status
	Degraded  bool
	Reason    DegradeReason
	// Detail carries the parse error text on a malformed fragment.
	Detail string
}

// Changed reports whether the result differs from the prior state.
func (r Result) Changed(prior domain.Stats, priorStatus domain.Status) bool {
	return r.Status != priorStatus || !r.Stats.Equal(prior)
}

// Reconciler merges structured fragments from model output into session state.
// It never fails: missing or malformed fragments degrade to prior state.
type Reconciler struct {
	extractor Extractor
}

// New creates a Reconciler using ex to locate fragments.
func New(ex Extractor) *Reconciler {
	return &Reconciler{extractor: ex}
}

// NewMarker creates a Reconciler for fragments introduced by marker.
func NewMarker(marker string) *Reconciler {
	return New(MarkerExtractor{Marker: marker})
}

// Reconcile splits raw into narrative and state.
func (r *Reconciler) Reconcile(raw string, prior domain.Stats, priorStatus domain.Status) Result {
	ex := r.extractor.Extract(raw)
	if !ex.Found {
		return Result{
			Narrative: raw,
			Stats:     prior.Clone(),
			Status:    priorStatus,
			Degraded:  true,
			Reason:    ReasonMissing,
		}
	}
	if ex.Err != nil {
		return Result{
			Narrative: raw,
			Stats:     prior.Clone(),
			Status:    priorStatus,
			Degraded:  true,
			Reason:    ReasonMalformed,
			Detail:    ex.Err.Error(),
		}
	}

	status := priorStatus
	partial := make(domain.Stats, len(ex.Fields))
	for key, rawValue := range ex.Fields {
		if key == statusField {
			var s string
			if err := json.Unmarshal(rawValue, &s); err == nil && domain.Status(s).IsValid() {
				status = domain.Status(s)
			}
			continue
		}
		v, err := domain.ValueFromJSON(rawValue)
		if errors.Is(err, domain.ErrNotScalar) {
			slog.Debug("Skipping non-scalar stat", "key", key, "value", compactRaw(rawValue))
			continue
		}
		if err != nil {
			slog.Warn("Skipping unreadable stat", "key", key, "value", compactRaw(rawValue), "error", err)
			continue
		}
		partial[key] = v
	}

	return Result{
		Narrative: r.narrative(raw, ex),
		Stats:     prior.Merge(partial),
		Status:    status,
	}
}

// narrative removes the fragment span. Prose after a lone fragment is kept.
// When another marker follows, everything past the first marker is stripped.
func (r *Reconciler) narrative(raw string, ex Extraction) string {
	head := strings.TrimRightFunc(raw[:ex.Start], isSpace)
	tail := raw[ex.End:]
	if later := r.extractor.Extract(tail); later.Found {
		tail = ""
	}
	tail = strings.TrimLeftFunc(tail, isSpace)

	switch {
	case head == "":
		return strings.TrimSpace(tail)
	case tail == "":
		return strings.TrimSpace(head)
	default:
		return strings.TrimSpace(head + " " + tail)
	}
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
