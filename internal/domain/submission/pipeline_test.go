package submission

import (
	"context"
	"testing"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/internal/infrastructure/sandbox"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner отвечает заранее заданными выводами по stdin теста
type fakeRunner struct {
	outputs map[string]*sandbox.Output
	runs    int
}

func (f *fakeRunner) Run(ctx context.Context, in sandbox.Input) (*sandbox.Output, error) {
	f.runs++
	if out, ok := f.outputs[in.Stdin]; ok {
		return out, nil
	}
	return &sandbox.Output{Stdout: "", ExitCode: 0}, nil
}

type fakeNotifier struct {
	roomCode string
	username string
	result   *domain.SubmissionResult
	calls    int
}

func (f *fakeNotifier) PostSubmissionResult(sub *domain.Submission, result *domain.SubmissionResult) {
	f.calls++
	f.roomCode = sub.RoomCode
	f.username = sub.Username
	f.result = result
}

type memoryCache struct {
	store map[string]string
}

func (m *memoryCache) Get(ctx context.Context, key string) (string, error) {
	return m.store[key], nil
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.store[key] = value.(string)
	return nil
}

func testProblem(tests ...domain.TestCase) *domain.Problem {
	return &domain.Problem{
		ID:          uuid.New(),
		Title:       "sum",
		Difficulty:  domain.DifficultyEasy,
		HiddenTests: tests,
	}
}

func testSubmission(problemID uuid.UUID) *domain.Submission {
	return &domain.Submission{
		Username:   "alice",
		RoomCode:   "SWIFT-CODER-1234",
		ProblemID:  problemID,
		Language:   "python",
		Source:     "print(sum(map(int, input().split())))",
		ReceivedAt: time.Now(),
	}
}

func newPipeline(t *testing.T, runner Runner, notifier RoomNotifier, cache ResultCache) *Pipeline {
	t.Helper()
	log, err := logger.New("error", "console")
	require.NoError(t, err)
	return NewPipeline(runner, notifier, cache, log)
}

func TestSubmit_AllTestsPass(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]*sandbox.Output{
		"1 2": {Stdout: "3\n", ExitCode: 0, DurationMs: 10},
		"4 5": {Stdout: "9\n", ExitCode: 0, DurationMs: 15},
	}}
	notifier := &fakeNotifier{}
	p := newPipeline(t, runner, notifier, nil)

	problem := testProblem(
		domain.TestCase{Input: "1 2", ExpectedOutput: "3"},
		domain.TestCase{Input: "4 5", ExpectedOutput: "9"},
	)
	result, err := p.Submit(context.Background(), testSubmission(problem.ID), problem)
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, 2, result.PassedTests)
	assert.Equal(t, 2, result.TotalTests)
	assert.Equal(t, int64(25), result.ExecutionTimeMs)
}

func TestSubmit_ReportsEveryTestOnFailure(t *testing.T) {
	// Первый тест падает - второй всё равно должен выполниться
	runner := &fakeRunner{outputs: map[string]*sandbox.Output{
		"1 2": {Stdout: "wrong", ExitCode: 0},
		"4 5": {Stdout: "9", ExitCode: 0},
	}}
	p := newPipeline(t, runner, nil, nil)

	problem := testProblem(
		domain.TestCase{Input: "1 2", ExpectedOutput: "3"},
		domain.TestCase{Input: "4 5", ExpectedOutput: "9"},
	)
	result, err := p.Submit(context.Background(), testSubmission(problem.ID), problem)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, 1, result.PassedTests)
	assert.Len(t, result.TestResults, 2)
	assert.Equal(t, 2, runner.runs)
	assert.False(t, result.TestResults[0].Passed)
	assert.True(t, result.TestResults[1].Passed)
}

func TestSubmit_TrimsOutputBeforeComparing(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]*sandbox.Output{
		"x": {Stdout: "  42\n\n", ExitCode: 0},
	}}
	p := newPipeline(t, runner, nil, nil)

	problem := testProblem(domain.TestCase{Input: "x", ExpectedOutput: "42 "})
	result, err := p.Submit(context.Background(), testSubmission(problem.ID), problem)
	require.NoError(t, err)

	assert.True(t, result.Passed)
}

func TestSubmit_TimeoutPopulatesError(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]*sandbox.Output{
		"x": {Stdout: "partial", TimedOut: true, ExitCode: -1, DurationMs: 5000},
	}}
	p := newPipeline(t, runner, nil, nil)

	problem := testProblem(domain.TestCase{Input: "x", ExpectedOutput: "42"})
	result, err := p.Submit(context.Background(), testSubmission(problem.ID), problem)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, "time limit exceeded", result.TestResults[0].Error)
	assert.LessOrEqual(t, result.TestResults[0].TimeMs, int64(5000))
}

func TestSubmit_OOMPopulatesError(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]*sandbox.Output{
		"x": {OOM: true, ExitCode: 137},
	}}
	p := newPipeline(t, runner, nil, nil)

	problem := testProblem(domain.TestCase{Input: "x", ExpectedOutput: "42"})
	result, err := p.Submit(context.Background(), testSubmission(problem.ID), problem)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, "memory limit exceeded", result.TestResults[0].Error)
}

func TestSubmit_RuntimeErrorUsesStderr(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]*sandbox.Output{
		"x": {Stderr: "SyntaxError: invalid syntax\n", ExitCode: 1},
	}}
	p := newPipeline(t, runner, nil, nil)

	problem := testProblem(domain.TestCase{Input: "x", ExpectedOutput: "42"})
	result, err := p.Submit(context.Background(), testSubmission(problem.ID), problem)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, "SyntaxError: invalid syntax", result.TestResults[0].Error)
}

func TestSubmit_AccidentalRightAnswerWithErrorStillFails(t *testing.T) {
	// Совпавший stdout при ненулевом коде выхода не засчитывается
	runner := &fakeRunner{outputs: map[string]*sandbox.Output{
		"x": {Stdout: "42", ExitCode: 2},
	}}
	p := newPipeline(t, runner, nil, nil)

	problem := testProblem(domain.TestCase{Input: "x", ExpectedOutput: "42"})
	result, err := p.Submit(context.Background(), testSubmission(problem.ID), problem)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, 0, result.PassedTests)
}

func TestSubmit_NotifiesRoomManager(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]*sandbox.Output{
		"x": {Stdout: "42", ExitCode: 0},
	}}
	notifier := &fakeNotifier{}
	p := newPipeline(t, runner, notifier, nil)

	problem := testProblem(domain.TestCase{Input: "x", ExpectedOutput: "42"})
	sub := testSubmission(problem.ID)
	_, err := p.Submit(context.Background(), sub, problem)
	require.NoError(t, err)

	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, sub.RoomCode, notifier.roomCode)
	assert.Equal(t, sub.Username, notifier.username)
	assert.True(t, notifier.result.Passed)
}

func TestSubmit_DeduplicatesRetries(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]*sandbox.Output{
		"x": {Stdout: "42", ExitCode: 0},
	}}
	notifier := &fakeNotifier{}
	cache := &memoryCache{store: make(map[string]string)}
	p := newPipeline(t, runner, notifier, cache)

	problem := testProblem(domain.TestCase{Input: "x", ExpectedOutput: "42"})
	sub := testSubmission(problem.ID)

	first, err := p.Submit(context.Background(), sub, problem)
	require.NoError(t, err)
	second, err := p.Submit(context.Background(), sub, problem)
	require.NoError(t, err)

	assert.Equal(t, first.PassedTests, second.PassedTests)
	assert.Equal(t, 1, runner.runs, "retry must not re-run the sandbox")
	assert.Equal(t, 1, notifier.calls, "retry must not re-post to the room")
}
