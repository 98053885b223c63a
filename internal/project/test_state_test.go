package project

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"din/internal/protocol"
	"din/internal/scene"
)

func mkScene(id string, n int, desc string) scene.Scene {
	return scene.Scene{ID: id, Number: n, Description: desc, VisualPrompt: desc + scene.DefaultVisualSuffix, Duration: scene.DefaultDuration}
}

func TestMerge_AppendsOnlyNewPairsInOrder(t *testing.T) {
	st := New()
	added := st.Merge([]scene.Scene{mkScene("a", 2, "Diner"), mkScene("b", 1, "Alley")})
	require.Len(t, added, 2)

	added = st.Merge([]scene.Scene{mkScene("c", 1, "Alley"), mkScene("d", 3, "Roof"), mkScene("e", 3, "Roof")})
	require.Len(t, added, 1)
	assert.Equal(t, "d", added[0].ID)

	var ids []string
	for _, sc := range st.Scenes() {
		ids = append(ids, sc.ID)
	}
	assert.Equal(t, []string{"a", "b", "d"}, ids)
	assert.True(t, st.Known().Has(scene.Key{Number: 2, Description: "Diner"}))
}

func TestMerge_ExtractedTwiceYieldsNoDuplicates(t *testing.T) {
	st := New()
	text := "Scene 1: A rain-soaked alley\nScene 2 - A neon diner"
	st.Merge(scene.Extract(text, st.Known(), scene.Options{}))
	st.Merge(scene.Extract(text, st.Known(), scene.Options{}))
	assert.Len(t, st.Scenes(), 2)
}

func TestUpdateSceneDescription(t *testing.T) {
	st := New()
	st.Merge([]scene.Scene{mkScene("a", 1, "Alley")})

	require.True(t, st.UpdateSceneDescription("a", "Flooded alley"))
	got, ok := st.Scene("a")
	require.True(t, ok)
	assert.Equal(t, "Flooded alley", got.Description)
	assert.Equal(t, 1, got.Number)
	assert.Equal(t, "Alley"+scene.DefaultVisualSuffix, got.VisualPrompt)

	assert.False(t, st.UpdateSceneDescription("missing", "x"))
	assert.Len(t, st.Scenes(), 1)

	// the edited pair is now the known one
	assert.True(t, st.Known().Has(scene.Key{Number: 1, Description: "Flooded alley"}))
	assert.False(t, st.Known().Has(scene.Key{Number: 1, Description: "Alley"}))
}

func TestSetVisualPrompt(t *testing.T) {
	st := New()
	st.Merge([]scene.Scene{mkScene("a", 1, "Alley")})
	assert.True(t, st.SetVisualPrompt("a", "watercolor alley"))
	assert.False(t, st.SetVisualPrompt("a", "  "))
	assert.False(t, st.SetVisualPrompt("zz", "x"))
	got, _ := st.Scene("a")
	assert.Equal(t, "watercolor alley", got.VisualPrompt)
}

func TestImageGeneration_SuccessAndFailure(t *testing.T) {
	st := New()
	st.Merge([]scene.Scene{mkScene("a", 1, "Alley")})

	tk, ok := st.BeginImageGeneration("a")
	require.True(t, ok)
	got, _ := st.Scene("a")
	assert.True(t, got.Generating)
	require.NoError(t, st.CompleteImageGeneration("a", tk, "data:image/png;base64,AAA"))

	tk, _ = st.BeginImageGeneration("a")
	err := st.CompleteImageGeneration("a", tk, "")
	assert.True(t, errors.Is(err, ErrImageUnavailable))
	got, _ = st.Scene("a")
	assert.False(t, got.Generating)
	assert.Equal(t, "data:image/png;base64,AAA", got.ImageRef)

	_, ok = st.BeginImageGeneration("nope")
	assert.False(t, ok)
}

func TestImageGeneration_LastStartedWins(t *testing.T) {
	st := New()
	st.Merge([]scene.Scene{mkScene("a", 1, "Alley")})

	first, _ := st.BeginImageGeneration("a")
	second, _ := st.BeginImageGeneration("a")
	require.NotEqual(t, first, second)

	err := st.CompleteImageGeneration("a", first, "old")
	assert.ErrorIs(t, err, ErrStaleTicket)
	got, _ := st.Scene("a")
	assert.True(t, got.Generating, "stale completion must not clear the flag")
	assert.Empty(t, got.ImageRef)

	require.NoError(t, st.CompleteImageGeneration("a", second, "new"))
	got, _ = st.Scene("a")
	assert.Equal(t, "new", got.ImageRef)
	assert.False(t, got.Generating)

	assert.ErrorIs(t, st.CompleteImageGeneration("a", second, "again"), ErrStaleTicket)
}

func TestFinalBriefReplacement(t *testing.T) {
	st := New()
	_, ok := st.FinalBrief()
	assert.False(t, ok)

	st.SetFinalBrief(protocol.MetaPrompt{EN: "one", KO: "하나"})
	st.SetFinalBrief(protocol.MetaPrompt{EN: "two", KO: "둘"})
	b, ok := st.FinalBrief()
	require.True(t, ok)
	assert.Equal(t, "two", b.EN)

	snap := st.Snapshot()
	require.NotNil(t, snap.FinalBrief)
	snap.FinalBrief.EN = "mutated"
	b, _ = st.FinalBrief()
	assert.Equal(t, "two", b.EN)
}

func TestReset(t *testing.T) {
	st := New()
	st.Merge([]scene.Scene{mkScene("a", 1, "Alley")})
	tk, _ := st.BeginImageGeneration("a")
	st.SetFinalBrief(protocol.MetaPrompt{EN: "x", KO: "y"})

	st.Reset()
	assert.Empty(t, st.Scenes())
	_, ok := st.FinalBrief()
	assert.False(t, ok)
	assert.ErrorIs(t, st.CompleteImageGeneration("a", tk, "ref"), ErrStaleTicket)

	st.Merge([]scene.Scene{mkScene("a", 1, "Alley")})
	assert.Len(t, st.Scenes(), 1)
}

func TestConcurrentMergeAndUpdate(t *testing.T) {
	st := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%5)
			st.Merge([]scene.Scene{mkScene(id, i%5+1, fmt.Sprintf("desc %d", i%5))})
			st.UpdateSceneDescription(id, fmt.Sprintf("desc %d", i%5))
			if tk, ok := st.BeginImageGeneration(id); ok {
				_ = st.CompleteImageGeneration(id, tk, "ref")
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, st.Scenes(), 5)
}
