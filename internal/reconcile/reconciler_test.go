package reconcile

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/ashureev/neonrun/internal/domain"
	"github.com/stretchr/testify/assert"
)

func stats(integrity, heat, speed float64) domain.Stats {
	return domain.Stats{
		"integrity": domain.Number(integrity),
		"heat":      domain.Number(heat),
		"speed":     domain.Number(speed),
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		priorStatus   domain.Status
		wantNarrative string
		wantStats     domain.Stats
		wantStatus    domain.Status
		wantReason    DegradeReason
	}{
		{
			name:          "partial merge keeps absent fields",
			raw:           `JSON_STATS: {"integrity":80,"status":"active"}`,
			priorStatus:   domain.StatusActive,
			wantNarrative: "",
			wantStats:     stats(80, 0, 0),
			wantStatus:    domain.StatusActive,
		},
		{
			name:          "narrative before fragment",
			raw:           `You slam the pedal. JSON_STATS: {"integrity":90,"speed":120,"status":"active"}`,
			priorStatus:   domain.StatusActive,
			wantNarrative: "You slam the pedal.",
			wantStats:     stats(90, 0, 120),
			wantStatus:    domain.StatusActive,
		},
		{
			name:          "no marker is verbatim",
			raw:           "  The rain keeps falling.\n",
			priorStatus:   domain.StatusActive,
			wantNarrative: "  The rain keeps falling.\n",
			wantStats:     stats(100, 0, 0),
			wantStatus:    domain.StatusActive,
			wantReason:    ReasonMissing,
		},
		{
			name:          "no marker keeps terminal status",
			raw:           "Sirens fade.",
			priorStatus:   domain.StatusEscaped,
			wantNarrative: "Sirens fade.",
			wantStats:     stats(100, 0, 0),
			wantStatus:    domain.StatusEscaped,
			wantReason:    ReasonMissing,
		},
		{
			name:          "truncated fragment is verbatim",
			raw:           `Boom. JSON_STATS: {"integrity": 4`,
			priorStatus:   domain.StatusActive,
			wantNarrative: `Boom. JSON_STATS: {"integrity": 4`,
			wantStats:     stats(100, 0, 0),
			wantStatus:    domain.StatusActive,
			wantReason:    ReasonMalformed,
		},
		{
			name:          "marker without object",
			raw:           "Boom. JSON_STATS: none",
			priorStatus:   domain.StatusActive,
			wantNarrative: "Boom. JSON_STATS: none",
			wantStats:     stats(100, 0, 0),
			wantStatus:    domain.StatusActive,
			wantReason:    ReasonMalformed,
		},
		{
			name:          "terminal status",
			raw:           `The car explodes. JSON_STATS: {"integrity":0,"status":"game_over"}`,
			priorStatus:   domain.StatusActive,
			wantNarrative: "The car explodes.",
			wantStats:     stats(0, 0, 0),
			wantStatus:    domain.StatusGameOver,
		},
		{
			name:          "unknown status keeps prior",
			raw:           `Hm. JSON_STATS: {"heat":5,"status":"victory"}`,
			priorStatus:   domain.StatusActive,
			wantNarrative: "Hm.",
			wantStats:     stats(100, 5, 0),
			wantStatus:    domain.StatusActive,
		},
		{
			name:          "only first fragment honored",
			raw:           `Left. JSON_STATS: {"heat":10} Right. JSON_STATS: {"heat":99}`,
			priorStatus:   domain.StatusActive,
			wantNarrative: "Left.",
			wantStats:     stats(100, 10, 0),
			wantStatus:    domain.StatusActive,
		},
		{
			name:          "code fence",
			raw:           "Drift.\nJSON_STATS:\n```json\n{\"speed\": 200}\n```",
			priorStatus:   domain.StatusActive,
			wantNarrative: "Drift.",
			wantStats:     stats(100, 0, 200),
			wantStatus:    domain.StatusActive,
		},
		{
			name:          "nested values skipped",
			raw:           `Go. JSON_STATS: {"speed":50,"car":{"doors":{"open":true}},"tags":[1,2],"heat":null}`,
			priorStatus:   domain.StatusActive,
			wantNarrative: "Go.",
			wantStats:     stats(100, 0, 50),
			wantStatus:    domain.StatusActive,
		},
		{
			name:          "trailing prose after fragment",
			raw:           `Before. JSON_STATS: {"heat":3} After.`,
			priorStatus:   domain.StatusActive,
			wantNarrative: "Before. After.",
			wantStats:     stats(100, 3, 0),
			wantStatus:    domain.StatusActive,
		},
	}

	r := NewMarker(DefaultMarker)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prior := stats(100, 0, 0)
			got := r.Reconcile(tt.raw, prior, tt.priorStatus)

			assert.Equal(t, tt.wantNarrative, got.Narrative)
			assert.True(t, tt.wantStats.Equal(got.Stats), "stats = %v", got.Stats)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Equal(t, tt.wantReason != ReasonNone, got.Degraded)
			assert.True(t, prior.Equal(stats(100, 0, 0)), "prior must not be mutated")
		})
	}
}

func TestReconcileStringAndBoolStats(t *testing.T) {
	r := NewMarker(DefaultMarker)
	got := r.Reconcile(`Ok. JSON_STATS: {"district":"Neo-Shinjuku","cloaked":true}`, stats(100, 0, 0), domain.StatusActive)

	want := stats(100, 0, 0).Merge(domain.Stats{
		"district": domain.String("Neo-Shinjuku"),
		"cloaked":  domain.Bool(true),
	})
	assert.True(t, want.Equal(got.Stats))
}

func TestResultChanged(t *testing.T) {
	r := NewMarker(DefaultMarker)
	prior := stats(100, 0, 0)

	same := r.Reconcile(`Idle. JSON_STATS: {"integrity":100,"status":"active"}`, prior, domain.StatusActive)
	assert.False(t, same.Changed(prior, domain.StatusActive))

	statusOnly := r.Reconcile(`Out. JSON_STATS: {"status":"escaped"}`, prior, domain.StatusActive)
	assert.True(t, statusOnly.Changed(prior, domain.StatusActive))

	missing := r.Reconcile("Nothing.", prior, domain.StatusActive)
	assert.False(t, missing.Changed(prior, domain.StatusActive))
}

func TestCustomMarker(t *testing.T) {
	r := NewMarker("STATE>>")
	got := r.Reconcile(`Vault open. STATE>> {"alarm":1}`, domain.Stats{}, domain.StatusActive)
	assert.Equal(t, "Vault open.", got.Narrative)
	assert.True(t, domain.Stats{"alarm": domain.Number(1)}.Equal(got.Stats))
}

func TestExtractSpan(t *testing.T) {
	raw := `abc JSON_STATS: {"a":{"b":"}"}} tail`
	ex := MarkerExtractor{Marker: DefaultMarker}.Extract(raw)

	assert.True(t, ex.Found)
	assert.NoError(t, ex.Err)
	assert.Equal(t, `JSON_STATS: {"a":{"b":"}"}}`, raw[ex.Start:ex.End])
	assert.Contains(t, ex.Fields, "a")
}

func TestReconcileWarnsOnUnreadableNumber(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := NewMarker(DefaultMarker)
	got := r.Reconcile(`Redline. JSON_STATS: {"integrity":1e999,"heat":7}`, stats(100, 0, 0), domain.StatusActive)

	assert.False(t, got.Degraded)
	assert.True(t, stats(100, 7, 0).Equal(got.Stats), "stats = %v", got.Stats)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "key=integrity")
	assert.Contains(t, out, "out of range")
	assert.NotContains(t, out, "non-scalar")
}
