package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/neonrun/internal/domain"
	"github.com/ashureev/neonrun/internal/generator"
	"github.com/ashureev/neonrun/internal/prompt"
	"github.com/ashureev/neonrun/internal/reconcile"
	"github.com/ashureev/neonrun/internal/scenario"
	"github.com/ashureev/neonrun/internal/store"
	"github.com/ashureev/neonrun/internal/transcript"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type countingRepo struct {
	store.Repository
	updates atomic.Int32

	// turnErr, when set, fails every assistant write.
	turnErr error
}

func (r *countingRepo) UpdateStats(ctx context.Context, id string, partial domain.Stats, status domain.Status) (*domain.Session, error) {
	r.updates.Add(1)
	return r.Repository.UpdateStats(ctx, id, partial, status)
}

func (r *countingRepo) CommitTurn(ctx context.Context, id, content string, partial domain.Stats, status domain.Status) (*domain.Message, error) {
	r.updates.Add(1)
	if r.turnErr != nil {
		return nil, r.turnErr
	}
	return r.Repository.CommitTurn(ctx, id, content, partial, status)
}

func (r *countingRepo) AppendMessage(ctx context.Context, id string, role domain.Role, content string) (*domain.Message, error) {
	if r.turnErr != nil && role == domain.RoleAssistant {
		return nil, r.turnErr
	}
	return r.Repository.AppendMessage(ctx, id, role, content)
}

type memRecorder struct {
	mu     sync.Mutex
	events []transcript.Event
}

func (m *memRecorder) Log(e transcript.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *memRecorder) Close() error { return nil }

func (m *memRecorder) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	svc  *Service
	repo *countingRepo
	gen  *generator.Scripted
	rec  *memRecorder
}

func newFixture(t *testing.T, opts Options, replies ...string) *fixture {
	t.Helper()
	repo := &countingRepo{Repository: store.NewMemory()}
	gen := generator.NewScripted(replies...)
	rec := &memRecorder{}
	opts.Recorder = rec
	sc := scenario.Default()

	svc, err := NewService(repo, prompt.NewAssembler(repo), gen, reconcile.NewMarker(sc.Marker), sc, opts)
	require.NoError(t, err)
	return &fixture{svc: svc, repo: repo, gen: gen, rec: rec}
}

func TestStartSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res, err := f.svc.StartSession(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, res.Session.SessionID)
	assert.Equal(t, domain.StatusActive, res.Session.Status)
	assert.True(t, res.Session.Stats.Equal(domain.InitialStats()))
	assert.Equal(t, domain.RoleAssistant, res.Message.Role)
	assert.Equal(t, "The dashboard glows red. What do you do?", res.Message.Content)

	all, err := f.repo.ListMessages(ctx, res.Session.SessionID, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.RoleSystem, all[0].Role)
	assert.Equal(t, []string{transcript.EventSessionStarted}, f.rec.types())
}

func TestSubmitActionEndToEnd(t *testing.T) {
	f := newFixture(t, Options{}, `You slam the pedal. JSON_STATS: {"integrity":90,"speed":120,"status":"active"}`)
	ctx := context.Background()

	start, err := f.svc.StartSession(ctx)
	require.NoError(t, err)
	id := start.Session.SessionID

	res, err := f.svc.SubmitAction(ctx, id, "  floor it ")
	require.NoError(t, err)

	assert.Equal(t, "You slam the pedal.", res.Message.Content)
	assert.Equal(t, domain.StatusActive, res.Status)
	assert.False(t, res.Degraded)
	want := domain.Stats{
		"integrity": domain.Number(90),
		"heat":      domain.Number(0),
		"speed":     domain.Number(120),
	}
	assert.True(t, want.Equal(res.Stats), "stats = %v", res.Stats)

	// The generator saw the whole log with the action last.
	sent := f.gen.LastContext()
	require.Len(t, sent, 3)
	assert.Equal(t, generator.RoleSystem, sent[0].Role)
	assert.Equal(t, generator.Message{Role: generator.RoleUser, Content: "floor it"}, sent[2])

	hist, err := f.svc.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.True(t, want.Equal(hist.Session.Stats))

	var got []string
	for _, m := range hist.Messages {
		got = append(got, string(m.Role)+":"+m.Content)
	}
	wantLog := []string{
		"assistant:The dashboard glows red. What do you do?",
		"user:floor it",
		"assistant:You slam the pedal.",
	}
	if diff := cmp.Diff(wantLog, got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitActionRejectsTerminatedSession(t *testing.T) {
	f := newFixture(t, Options{}, `The car flips. JSON_STATS: {"integrity":0,"status":"game_over"}`)
	ctx := context.Background()

	start, err := f.svc.StartSession(ctx)
	require.NoError(t, err)
	id := start.Session.SessionID

	res, err := f.svc.SubmitAction(ctx, id, "swerve")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGameOver, res.Status)
	require.Equal(t, 1, f.gen.Calls())

	before, err := f.svc.GetHistory(ctx, id)
	require.NoError(t, err)

	_, err = f.svc.SubmitAction(ctx, id, "try again")
	assert.ErrorIs(t, err, ErrSessionTerminated)
	assert.Equal(t, 1, f.gen.Calls(), "generator must not be called for a finished session")

	after, err := f.svc.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Len(t, after.Messages, len(before.Messages))
}

func TestSubmitActionFailedTurnWriteKeepsSessionPlayable(t *testing.T) {
	f := newFixture(t, Options{},
		`The car flips. JSON_STATS: {"integrity":0,"status":"game_over"}`,
	)
	ctx := context.Background()
	start, err := f.svc.StartSession(ctx)
	require.NoError(t, err)
	id := start.Session.SessionID

	diskFull := errors.New("disk full")
	f.repo.turnErr = diskFull

	_, err = f.svc.SubmitAction(ctx, id, "swerve")
	require.ErrorIs(t, err, diskFull)

	hist, err := f.svc.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, hist.Session.Status)
	assert.True(t, hist.Session.Stats.Equal(domain.InitialStats()), "stats = %v", hist.Session.Stats)
	assert.Equal(t, domain.RoleUser, hist.Messages[len(hist.Messages)-1].Role)

	// Once the store recovers the same session can still reach its ending.
	f.repo.turnErr = nil
	res, err := f.svc.SubmitAction(ctx, id, "swerve")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGameOver, res.Status)
	assert.Equal(t, "The car flips.", res.Message.Content)
}

func TestSubmitActionValidation(t *testing.T) {
	f := newFixture(t, Options{MaxActionLength: 5}, "ok")
	ctx := context.Background()
	start, err := f.svc.StartSession(ctx)
	require.NoError(t, err)
	id := start.Session.SessionID

	for name, action := range map[string]string{
		"empty":      "",
		"whitespace": " \n\t ",
		"too long":   "abcdef",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.SubmitAction(ctx, id, action)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "action", verr.Field)
		})
	}

	// Length counts runes, not bytes.
	_, err = f.svc.SubmitAction(ctx, id, "ネオン東京")
	assert.NoError(t, err)
	assert.Equal(t, 1, f.gen.Calls())
}

func TestSubmitActionUnknownSession(t *testing.T) {
	f := newFixture(t, Options{}, "ok")
	_, err := f.svc.SubmitAction(context.Background(), "missing", "go")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, f.gen.Calls())

	_, err = f.svc.GetHistory(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubmitActionGenerationFailure(t *testing.T) {
	f := newFixture(t, Options{}, "unused")
	ctx := context.Background()
	start, err := f.svc.StartSession(ctx)
	require.NoError(t, err)
	id := start.Session.SessionID

	boom := errors.New("provider unavailable")
	f.gen.FailWith(boom)

	_, err = f.svc.SubmitAction(ctx, id, "hide")
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, boom)

	hist, err := f.svc.GetHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, domain.RoleUser, hist.Messages[1].Role)
	assert.Equal(t, "hide", hist.Messages[1].Content)
	assert.Contains(t, f.rec.types(), transcript.EventGenerationFail)
}

func TestSubmitActionEmptyOutput(t *testing.T) {
	f := newFixture(t, Options{}, "   ")
	ctx := context.Background()
	start, err := f.svc.StartSession(ctx)
	require.NoError(t, err)

	_, err = f.svc.SubmitAction(ctx, start.Session.SessionID, "wait")
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, generator.ErrEmptyOutput)
}

func TestSubmitActionDegraded(t *testing.T) {
	f := newFixture(t, Options{}, "Neon rain hisses on the hood.")
	ctx := context.Background()
	start, err := f.svc.StartSession(ctx)
	require.NoError(t, err)

	res, err := f.svc.SubmitAction(ctx, start.Session.SessionID, "look around")
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, "Neon rain hisses on the hood.", res.Message.Content)
	assert.Equal(t, domain.StatusActive, res.Status)
	assert.True(t, res.Stats.Equal(domain.InitialStats()))
	assert.Zero(t, f.repo.updates.Load(), "unchanged stats must not be written")
	assert.Contains(t, f.rec.types(), transcript.EventDegraded)
}

func TestGetHistoryIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{}, `Go. JSON_STATS: {"heat":5}`)
	ctx := context.Background()
	start, err := f.svc.StartSession(ctx)
	require.NoError(t, err)
	_, err = f.svc.SubmitAction(ctx, start.Session.SessionID, "run")
	require.NoError(t, err)

	first, err := f.svc.GetHistory(ctx, start.Session.SessionID)
	require.NoError(t, err)
	second, err := f.svc.GetHistory(ctx, start.Session.SessionID)
	require.NoError(t, err)

	if diff := cmp.Diff(first.Messages, second.Messages); diff != "" {
		t.Errorf("history changed between reads (-first +second):\n%s", diff)
	}
	for _, m := range first.Messages {
		assert.NotEqual(t, domain.RoleSystem, m.Role)
	}
}

type slowGenerator struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (g *slowGenerator) Name() string { return "slow" }

func (g *slowGenerator) Generate(ctx context.Context, msgs []generator.Message) (string, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxSeen.Load()
		if n <= m || g.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	select {
	case <-time.After(10 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "Tires scream. " + strings.Repeat("!", len(msgs)%3), nil
}

func TestSubmitActionSerializesPerSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := store.NewMemory()
	gen := &slowGenerator{}
	sc := scenario.Default()
	svc, err := NewService(repo, prompt.NewAssembler(repo), gen, reconcile.NewMarker(sc.Marker), sc, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	start, err := svc.StartSession(ctx)
	require.NoError(t, err)
	id := start.Session.SessionID

	const turns = 5
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitAction(ctx, id, "drift")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), gen.maxSeen.Load())
	assert.Zero(t, svc.locks.len())

	hist, err := svc.GetHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1+2*turns)
	for i, m := range hist.Messages[1:] {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "message %d", i+1)
	}
}

func TestSessionLocksRespectContext(t *testing.T) {
	locks := newSessionLocks()
	release, err := locks.acquire(context.Background(), "s")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "s")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Zero(t, locks.len())
}
