package room

import (
	"context"
	"testing"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	log, err := logger.New("error", "console")
	require.NoError(t, err)

	picker := &fakePicker{problem: &domain.Problem{
		ID:          uuid.New(),
		Title:       "Two Sum",
		Difficulty:  domain.DifficultyEasy,
		HiddenTests: []domain.TestCase{{Input: "1", ExpectedOutput: "1"}},
	}}

	return NewRegistry(picker, nil, NewCodeAllocator(nil), testRoomConfig(), log, nil)
}

func TestRegistry_RejectsInvalidCode(t *testing.T) {
	g := newTestRegistry(t)

	_, err := g.GetOrCreate("not-a-code", Options{Mode: domain.ModeCasual, Difficulty: domain.DifficultyEasy, RequiredPlayers: 2})
	assert.Error(t, err)
}

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	g := newTestRegistry(t)
	opts := Options{Mode: domain.ModeCasual, Difficulty: domain.DifficultyEasy, RequiredPlayers: 2}

	first, err := g.GetOrCreate("SWIFT-CODER-1234", opts)
	require.NoError(t, err)
	second, err := g.GetOrCreate("SWIFT-CODER-1234", opts)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, g.Count())
}

func TestRegistry_CreateMatchedAllocatesValidCode(t *testing.T) {
	g := newTestRegistry(t)

	r, err := g.CreateMatched(context.Background(), domain.ModeRanked, domain.DifficultyMedium)
	require.NoError(t, err)
	assert.True(t, ValidCode(r.Code()))

	got, ok := g.Get(r.Code())
	require.True(t, ok)
	assert.Same(t, r, got)
}

func TestRegistry_PostToUnknownRoomIsDiscarded(t *testing.T) {
	g := newTestRegistry(t)

	// Поздний результат освобождённой комнаты не должен паниковать
	g.PostSubmissionResult(&domain.Submission{
		Username: "alice",
		RoomCode: "GOLDEN-TIGER-0001",
	}, &domain.SubmissionResult{Passed: true})
}

func TestRegistry_LiveListsOnlyPlayingRooms(t *testing.T) {
	g := newTestRegistry(t)
	opts := Options{Mode: domain.ModeCasual, Difficulty: domain.DifficultyEasy, RequiredPlayers: 2}

	r, err := g.GetOrCreate("SWIFT-CODER-1234", opts)
	require.NoError(t, err)
	assert.Empty(t, g.Live(), "waiting room is not live")

	_, err = r.Join(newFakeConn("alice"), nil)
	require.NoError(t, err)
	_, err = r.Join(newFakeConn("bob"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(g.Live()) == 1
	}, time.Second, 5*time.Millisecond)

	live := g.Live()[0]
	assert.Equal(t, "SWIFT-CODER-1234", live.RoomID)
	assert.Equal(t, 2, live.PlayerCount)
	require.NotNil(t, live.Problem)
	assert.Equal(t, "Two Sum", live.Problem.Title)
}
