package skill

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/quill/internal/lock"
	"github.com/ShayCichocki/quill/pkg/models"
)

func noop() Handler {
	return HandlerFunc(func(*Context, map[string]any) (*Result, error) {
		return &Result{Success: true}, nil
	})
}

func TestRegistry_ResolveEarliestForIntent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Skill{Name: "writer", Intent: models.IntentWriteArticle, Handler: noop()}))
	require.NoError(t, r.Register(Skill{Name: "writer-2", Intent: models.IntentWriteArticle, Handler: noop()}))
	require.NoError(t, r.Register(Skill{Name: "qa", Intent: models.IntentGeneralQA, Handler: noop()}))

	s, ok := r.Resolve(models.IntentWriteArticle)
	require.True(t, ok)
	assert.Equal(t, "writer", s.Name)

	_, ok = r.Resolve(models.IntentPublishPost)
	assert.False(t, ok)

	names := []string{}
	for _, s := range r.List() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"writer", "writer-2", "qa"}, names)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Skill{Name: "a", Intent: models.IntentSummarize, Handler: noop()}))

	err := r.Register(Skill{Name: "a", Intent: models.IntentSummarize, Handler: noop()})
	assert.ErrorIs(t, err, ErrDuplicateSkill)

	assert.Error(t, r.Register(Skill{Intent: models.IntentSummarize, Handler: noop()}))
	assert.Error(t, r.Register(Skill{Name: "b", Intent: "NOPE", Handler: noop()}))
	assert.Error(t, r.Register(Skill{Name: "c", Intent: models.IntentSummarize}))
	assert.Error(t, r.Register(Skill{
		Name: "d", Intent: models.IntentSummarize, Handler: noop(),
		Triggers: Triggers{Pattern: "("},
	}))
}

func TestRegistry_SkillTriggers(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Skill{Name: "plain", Intent: models.IntentGeneralQA, Handler: noop()})
	r.MustRegister(Skill{
		Name: "seo", Intent: models.IntentEditContent, Handler: noop(),
		Triggers: Triggers{Keywords: []string{"seo"}, Pattern: `(?i)meta\s+description`},
	})

	triggers := r.SkillTriggers()
	require.Len(t, triggers, 1, "skills without triggers are skipped")
	assert.Equal(t, "seo", triggers[0].Skill)
	assert.Equal(t, models.IntentEditContent, triggers[0].Intent)
	assert.True(t, triggers[0].Pattern.MatchString("write a Meta description"))
}

func TestContext_LocksScopedToTask(t *testing.T) {
	locks := lock.NewCoordinator(lock.Options{})
	a := NewContext(context.Background(), ContextOptions{TaskID: "task-a", Locks: locks})
	b := NewContext(context.Background(), ContextOptions{TaskID: "task-b", Locks: locks})

	assert.True(t, a.AcquireLock("posts/a.md"))
	assert.False(t, b.AcquireLock("posts/a.md"))

	res := b.AcquireLocks([]string{"posts/b.md", "posts/a.md"})
	assert.False(t, res.Success())
	assert.Equal(t, []string{"posts/a.md"}, res.Failed)
	assert.False(t, locks.IsLocked("posts/b.md"))

	a.ReleaseLock("posts/a.md")
	assert.True(t, b.AcquireLock("posts/a.md"))
}

func TestContext_Callbacks(t *testing.T) {
	var progress []models.Progress
	var tokens int64
	var cost float64
	var saved []byte

	sc := NewContext(context.Background(), ContextOptions{
		TaskID:       "t",
		Checkpoint:   []byte("step-1"),
		OnProgress:   func(p models.Progress) { progress = append(progress, p) },
		OnCost:       func(tk int64, c float64) { tokens += tk; cost += c },
		OnCheckpoint: func(b []byte) { saved = b },
	})

	assert.Equal(t, "step-1", string(sc.Checkpoint()))

	sc.Progress(1, 3, "outline")
	sc.RecordCost(100, 0.5)
	sc.RecordCost(50, 0.25)
	sc.SaveCheckpoint([]byte("step-2"))

	require.Len(t, progress, 1)
	assert.Equal(t, models.Progress{Step: 1, Total: 3, Message: "outline"}, progress[0])
	assert.Equal(t, int64(150), tokens)
	assert.InDelta(t, 0.75, cost, 1e-9)
	assert.Equal(t, "step-2", string(saved))
	assert.Equal(t, "step-2", string(sc.Checkpoint()))
}

func TestContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sc := NewContext(ctx, ContextOptions{TaskID: "t"})

	assert.NoError(t, sc.Cancelled())
	cancel()
	assert.ErrorIs(t, sc.Cancelled(), ErrCancelled)
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(ErrCancelled))
	assert.True(t, IsCancellation(fmt.Errorf("stream: %w", context.Canceled)))
	assert.False(t, IsCancellation(errors.New("boom")))
	assert.False(t, IsCancellation(nil))
}
