package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/config"
	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/internal/websocket"
	"github.com/bmstu-itstech/bitbattle/pkg/errors"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedFrame struct {
	Type string
	Data json.RawMessage
}

// fakeConn записывает все кадры, которые комната ему отправила
type fakeConn struct {
	mu       sync.Mutex
	username string
	frames   []recordedFrame
	closed   bool
}

func newFakeConn(username string) *fakeConn {
	return &fakeConn{username: username}
}

func (f *fakeConn) Username() string { return f.username }

func (f *fakeConn) Enqueue(data []byte, critical bool) bool {
	var frame websocket.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return false
	}
	f.mu.Lock()
	f.frames = append(f.frames, recordedFrame{Type: frame.Type, Data: frame.Data})
	f.mu.Unlock()
	return true
}

func (f *fakeConn) SendFrame(frameType string, payload interface{}, critical bool) bool {
	data, err := websocket.Marshal(frameType, payload)
	if err != nil {
		return false
	}
	return f.Enqueue(data, critical)
}

func (f *fakeConn) SendError(message string, code int) {
	f.SendFrame(websocket.FrameError, websocket.ErrorPayload{Message: message, Code: code}, true)
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) framesOfType(frameType string) []recordedFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedFrame
	for _, fr := range f.frames {
		if fr.Type == frameType {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeConn) frameTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		types = append(types, fr.Type)
	}
	return types
}

type fakePicker struct {
	problem *domain.Problem
}

func (f *fakePicker) ChooseForUsers(ctx context.Context, difficulty domain.Difficulty, usernames []string) (*domain.Problem, error) {
	return f.problem, nil
}

type fakeScorer struct {
	mu      sync.Mutex
	calls   int
	summary *domain.GameSummary
	changes map[string]domain.RatingChange
}

func (f *fakeScorer) FinalizeGame(ctx context.Context, summary *domain.GameSummary) (map[string]domain.RatingChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.summary = summary
	if f.changes != nil {
		return f.changes, nil
	}
	return map[string]domain.RatingChange{}, nil
}

func (f *fakeScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testRoomConfig() config.RoomConfig {
	return config.RoomConfig{
		CountdownDuration: 10 * time.Millisecond,
		GracePeriod:       200 * time.Millisecond,
		OutboundQueueSize: 64,
		CodeChangeRateRPS: 20,
		CodeChangeBurst:   40,
	}
}

func newTestRoom(t *testing.T, mode domain.GameMode, scorer Scorer) *Room {
	t.Helper()
	log, err := logger.New("error", "console")
	require.NoError(t, err)

	picker := &fakePicker{problem: &domain.Problem{
		ID:         uuid.New(),
		Title:      "Two Sum",
		Difficulty: domain.DifficultyEasy,
		HiddenTests: []domain.TestCase{
			{Input: "1 2", ExpectedOutput: "3"},
		},
	}}

	return New("SWIFT-CODER-1234", mode, domain.DifficultyEasy, 2, testRoomConfig(), picker, scorer, nil, log)
}

func waitForPhase(t *testing.T, r *Room, phase domain.RoomPhase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.Snapshot().Phase == phase
	}, time.Second, 5*time.Millisecond)
}

func passedResult() *domain.SubmissionResult {
	return &domain.SubmissionResult{
		Passed:      true,
		PassedTests: 1,
		TotalTests:  1,
		TestResults: []domain.TestResult{{Input: "1 2", Expected: "3", Actual: "3", Passed: true}},
	}
}

func failedResult() *domain.SubmissionResult {
	return &domain.SubmissionResult{
		Passed:      false,
		PassedTests: 0,
		TotalTests:  1,
		TestResults: []domain.TestResult{{Input: "1 2", Expected: "3", Actual: "4"}},
	}
}

func submissionFrom(username string) *domain.Submission {
	return &domain.Submission{
		Username: username,
		RoomCode: "SWIFT-CODER-1234",
		Language: "python",
		Source:   "print(3)",
	}
}

func TestJoin_TwoPlayersStartGame(t *testing.T) {
	r := newTestRoom(t, domain.ModeCasual, nil)
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")

	as, err := r.Join(alice, nil)
	require.NoError(t, err)
	assert.Equal(t, AdmittedParticipant, as)
	assert.Equal(t, domain.PhaseWaiting, r.Snapshot().Phase)

	as, err = r.Join(bob, nil)
	require.NoError(t, err)
	assert.Equal(t, AdmittedParticipant, as)

	// Проблема назначена и game_start разослан обоим
	require.Len(t, alice.framesOfType(websocket.FrameProblemAssigned), 1)
	require.Len(t, alice.framesOfType(websocket.FrameGameStart), 1)
	require.Len(t, bob.framesOfType(websocket.FrameGameStart), 1)

	// player_count дошёл до current=2
	counts := bob.framesOfType(websocket.FramePlayerCount)
	require.NotEmpty(t, counts)
	var last websocket.PlayerCountPayload
	require.NoError(t, json.Unmarshal(counts[len(counts)-1].Data, &last))
	assert.Equal(t, 2, last.Current)
	assert.Equal(t, 2, last.Required)

	waitForPhase(t, r, domain.PhasePlaying)
}

func TestJoin_ThirdSocketRejected(t *testing.T) {
	r := newTestRoom(t, domain.ModeCasual, nil)
	_, err := r.Join(newFakeConn("alice"), nil)
	require.NoError(t, err)
	_, err = r.Join(newFakeConn("bob"), nil)
	require.NoError(t, err)

	_, err = r.Join(newFakeConn("carol"), nil)
	require.Error(t, err)
	appErr := errors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrRoomFull.Message, appErr.Message)
}

func TestJoin_DuplicateUsernameBecomesSpectator(t *testing.T) {
	r := newTestRoom(t, domain.ModeCasual, nil)
	_, err := r.Join(newFakeConn("alice"), nil)
	require.NoError(t, err)

	impostor := newFakeConn("alice")
	as, err := r.Join(impostor, nil)
	require.NoError(t, err)
	assert.Equal(t, AdmittedSpectator, as)
	require.Len(t, impostor.framesOfType(websocket.FrameSpectateInit), 1)
}

func TestJoin_RankedRequiresAuth(t *testing.T) {
	r := newTestRoom(t, domain.ModeRanked, nil)

	_, err := r.Join(newFakeConn("guest"), nil)
	require.Error(t, err)

	userID := uuid.New()
	_, err = r.Join(newFakeConn("alice"), &userID)
	require.NoError(t, err)
}

func TestWinnerRace_ExactlyOneGameOver(t *testing.T) {
	scorer := &fakeScorer{}
	r := newTestRoom(t, domain.ModeCasual, scorer)
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	_, err := r.Join(alice, nil)
	require.NoError(t, err)
	_, err = r.Join(bob, nil)
	require.NoError(t, err)
	waitForPhase(t, r, domain.PhasePlaying)

	// Обе отправки проходят; побеждает первая, которую увидел single-writer
	r.PostResult(submissionFrom("alice"), passedResult())
	r.PostResult(submissionFrom("bob"), passedResult())

	waitForPhase(t, r, domain.PhaseEnded)
	require.Eventually(t, func() bool {
		return len(bob.framesOfType(websocket.FrameSubmissionResult)) == 2
	}, time.Second, 5*time.Millisecond)

	// Ровно один game_over на сокет, победитель - alice
	aliceOver := alice.framesOfType(websocket.FrameGameOver)
	bobOver := bob.framesOfType(websocket.FrameGameOver)
	require.Len(t, aliceOver, 1)
	require.Len(t, bobOver, 1)

	var payload websocket.GameOverPayload
	require.NoError(t, json.Unmarshal(aliceOver[0].Data, &payload))
	require.NotNil(t, payload.Winner)
	assert.Equal(t, "alice", *payload.Winner)
	assert.NotNil(t, payload.SolveTimeMs)

	// Оба получили submission_result со своим passed=true
	assert.Len(t, alice.framesOfType(websocket.FrameSubmissionResult), 1)
	assert.Len(t, bob.framesOfType(websocket.FrameSubmissionResult), 2)

	assert.Equal(t, 1, scorer.callCount())
}

func TestFailedSubmission_ReportedToSubmitterOnly(t *testing.T) {
	r := newTestRoom(t, domain.ModeCasual, nil)
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	_, err := r.Join(alice, nil)
	require.NoError(t, err)
	_, err = r.Join(bob, nil)
	require.NoError(t, err)
	waitForPhase(t, r, domain.PhasePlaying)

	r.PostResult(submissionFrom("bob"), failedResult())

	require.Eventually(t, func() bool {
		return len(bob.framesOfType(websocket.FrameSubmissionResult)) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, alice.framesOfType(websocket.FrameSubmissionResult))
	assert.Equal(t, domain.PhasePlaying, r.Snapshot().Phase)
	assert.Empty(t, alice.framesOfType(websocket.FrameGameOver))
}

func TestScoring_StandingsOrder(t *testing.T) {
	scorer := &fakeScorer{}
	r := newTestRoom(t, domain.ModeCasual, scorer)
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	_, err := r.Join(alice, nil)
	require.NoError(t, err)
	_, err = r.Join(bob, nil)
	require.NoError(t, err)
	waitForPhase(t, r, domain.PhasePlaying)

	r.PostResult(submissionFrom("bob"), passedResult())
	waitForPhase(t, r, domain.PhaseEnded)

	require.Eventually(t, func() bool { return scorer.callCount() == 1 }, time.Second, 5*time.Millisecond)

	summary := scorer.summary
	require.Len(t, summary.Standings, 2)
	assert.Equal(t, "bob", summary.Standings[0].Username)
	assert.Equal(t, 1, summary.Standings[0].Placement)
	require.NotNil(t, summary.Standings[0].SolveTimeMs)
	assert.Equal(t, "python", summary.Standings[0].Language)
	assert.Equal(t, "alice", summary.Standings[1].Username)
	assert.Equal(t, 2, summary.Standings[1].Placement)
	assert.Nil(t, summary.Standings[1].SolveTimeMs)
}

func TestLastDisconnect_AbandonsWithoutScoring(t *testing.T) {
	scorer := &fakeScorer{}
	r := newTestRoom(t, domain.ModeCasual, scorer)
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	_, err := r.Join(alice, nil)
	require.NoError(t, err)
	_, err = r.Join(bob, nil)
	require.NoError(t, err)
	waitForPhase(t, r, domain.PhasePlaying)

	spectator := newFakeConn("watcher")
	require.NoError(t, r.Watch(spectator))

	r.HandleDisconnect(alice)
	r.HandleDisconnect(bob)

	waitForPhase(t, r, domain.PhaseEnded)

	over := spectator.framesOfType(websocket.FrameGameOver)
	require.Len(t, over, 1)
	var payload websocket.GameOverPayload
	require.NoError(t, json.Unmarshal(over[0].Data, &payload))
	assert.Nil(t, payload.Winner)
	assert.Equal(t, 0, scorer.callCount())
}

func TestCodeChange_FansOutWithoutEcho(t *testing.T) {
	r := newTestRoom(t, domain.ModeCasual, nil)
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	_, err := r.Join(alice, nil)
	require.NoError(t, err)
	_, err = r.Join(bob, nil)
	require.NoError(t, err)
	waitForPhase(t, r, domain.PhasePlaying)

	spectator := newFakeConn("watcher")
	require.NoError(t, r.Watch(spectator))

	raw, err := json.Marshal(websocket.CodeChangePayload{Code: "print(3)"})
	require.NoError(t, err)
	r.HandleFrame(alice, websocket.FrameCodeChange, raw)

	require.Eventually(t, func() bool {
		return len(bob.framesOfType(websocket.FrameCodeChange)) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, alice.framesOfType(websocket.FrameCodeChange), "sender must not receive its own echo")
	require.Len(t, spectator.framesOfType(websocket.FrameCodeChange), 1)

	var payload websocket.CodeChangePayload
	require.NoError(t, json.Unmarshal(bob.framesOfType(websocket.FrameCodeChange)[0].Data, &payload))
	assert.Equal(t, "alice", payload.Username)
	assert.Equal(t, "print(3)", payload.Code)
}

func TestSpectateInit_CarriesPlayerCodes(t *testing.T) {
	r := newTestRoom(t, domain.ModeCasual, nil)
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	_, err := r.Join(alice, nil)
	require.NoError(t, err)
	_, err = r.Join(bob, nil)
	require.NoError(t, err)
	waitForPhase(t, r, domain.PhasePlaying)

	raw, err := json.Marshal(websocket.CodeChangePayload{Code: "x = 1"})
	require.NoError(t, err)
	r.HandleFrame(alice, websocket.FrameCodeChange, raw)
	require.Eventually(t, func() bool {
		return len(bob.framesOfType(websocket.FrameCodeChange)) == 1
	}, time.Second, 5*time.Millisecond)

	spectator := newFakeConn("watcher")
	require.NoError(t, r.Watch(spectator))

	inits := spectator.framesOfType(websocket.FrameSpectateInit)
	require.Len(t, inits, 1)
	var payload websocket.SpectateInitPayload
	require.NoError(t, json.Unmarshal(inits[0].Data, &payload))
	assert.True(t, payload.GameStarted)
	assert.False(t, payload.GameEnded)
	assert.ElementsMatch(t, []string{"alice", "bob"}, payload.Players)
	assert.Equal(t, "x = 1", payload.PlayerCodes["alice"])
}

func TestSpectator_CannotSendCodeChange(t *testing.T) {
	r := newTestRoom(t, domain.ModeCasual, nil)
	alice := newFakeConn("alice")
	_, err := r.Join(alice, nil)
	require.NoError(t, err)

	spectator := newFakeConn("watcher")
	require.NoError(t, r.Watch(spectator))

	raw, err := json.Marshal(websocket.CodeChangePayload{Code: "hack"})
	require.NoError(t, err)
	r.HandleFrame(spectator, websocket.FrameCodeChange, raw)

	require.Eventually(t, func() bool {
		return len(spectator.framesOfType(websocket.FrameError)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, alice.framesOfType(websocket.FrameCodeChange))
}

func TestLatePassingSubmission_NoSecondGameOver(t *testing.T) {
	r := newTestRoom(t, domain.ModeCasual, nil)
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")
	_, err := r.Join(alice, nil)
	require.NoError(t, err)
	_, err = r.Join(bob, nil)
	require.NoError(t, err)
	waitForPhase(t, r, domain.PhasePlaying)

	r.PostResult(submissionFrom("alice"), passedResult())
	waitForPhase(t, r, domain.PhaseEnded)

	r.PostResult(submissionFrom("bob"), passedResult())
	require.Eventually(t, func() bool {
		return len(bob.framesOfType(websocket.FrameSubmissionResult)) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Len(t, bob.framesOfType(websocket.FrameGameOver), 1)
	assert.Len(t, alice.framesOfType(websocket.FrameGameOver), 1)
}
