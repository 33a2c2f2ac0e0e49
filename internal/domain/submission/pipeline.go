package submission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/domain"
	"github.com/bmstu-itstech/bitbattle/internal/infrastructure/sandbox"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"go.uber.org/zap"
)

// Runner выполняет один запуск исходника против одного stdin
type Runner interface {
	Run(ctx context.Context, in sandbox.Input) (*sandbox.Output, error)
}

// RoomNotifier получает готовый результат; реестр комнат сбрасывает его,
// если комната уже завершилась
type RoomNotifier interface {
	PostSubmissionResult(sub *domain.Submission, result *domain.SubmissionResult)
}

// ResultCache хранит результаты недавних отправок для идемпотентности ретраев
type ResultCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// dedupeWindow - окно, в котором повтор той же отправки вернёт кэшированный результат
const dedupeWindow = 10 * time.Second

// Pipeline прогоняет отправку через все скрытые тесты задачи.
// Тесты внутри одной отправки идут последовательно; параллельность между
// комнатами ограничивает семафор песочницы.
type Pipeline struct {
	runner   Runner
	notifier RoomNotifier
	results  ResultCache
	log      *logger.Logger
}

// NewPipeline создаёт новый pipeline
func NewPipeline(runner Runner, notifier RoomNotifier, results ResultCache, log *logger.Logger) *Pipeline {
	return &Pipeline{
		runner:   runner,
		notifier: notifier,
		results:  results,
		log:      log,
	}
}

// Submit выполняет отправку против всех скрытых тестов problem. Каждый тест
// репортится независимо - ранний fail не обрывает прогон, клиент видит полную
// диагностику. По завершении результат отдаётся менеджеру комнат.
func (p *Pipeline) Submit(ctx context.Context, sub *domain.Submission, problem *domain.Problem) (*domain.SubmissionResult, error) {
	key := dedupeKey(sub)
	if cached := p.cachedResult(ctx, key); cached != nil {
		p.log.Debug("Returning deduplicated submission result",
			zap.String("username", sub.Username),
			zap.String("room", sub.RoomCode),
		)
		return cached, nil
	}

	result := &domain.SubmissionResult{
		TotalTests:  len(problem.HiddenTests),
		TestResults: make([]domain.TestResult, 0, len(problem.HiddenTests)),
	}

	runtimeFailure := false
	for _, test := range problem.HiddenTests {
		tr := p.runTest(ctx, sub, test)
		if tr.Passed {
			result.PassedTests++
		}
		if tr.Error != "" {
			runtimeFailure = true
		}
		result.ExecutionTimeMs += tr.TimeMs
		result.TestResults = append(result.TestResults, tr)
	}

	result.Passed = result.PassedTests == result.TotalTests && !runtimeFailure

	p.log.Info("Submission judged",
		zap.String("username", sub.Username),
		zap.String("room", sub.RoomCode),
		zap.String("language", sub.Language),
		zap.Bool("passed", result.Passed),
		zap.Int("passed_tests", result.PassedTests),
		zap.Int("total_tests", result.TotalTests),
		zap.Int64("execution_time_ms", result.ExecutionTimeMs),
	)

	p.storeResult(ctx, key, result)

	// Комната решает судьбу результата под своим single-writer; отправитель
	// мог уже отключиться - результат всё равно доходит
	if p.notifier != nil {
		p.notifier.PostSubmissionResult(sub, result)
	}

	return result, nil
}

// runTest выполняет один скрытый тест
func (p *Pipeline) runTest(ctx context.Context, sub *domain.Submission, test domain.TestCase) domain.TestResult {
	tr := domain.TestResult{
		Input:    test.Input,
		Expected: test.ExpectedOutput,
	}

	out, err := p.runner.Run(ctx, sandbox.Input{
		Language: sub.Language,
		Source:   sub.Source,
		Stdin:    test.Input,
	})
	if err != nil {
		tr.Error = err.Error()
		return tr
	}

	tr.Actual = strings.TrimSpace(out.Stdout)
	tr.TimeMs = out.DurationMs

	switch {
	case out.TimedOut:
		tr.Error = "time limit exceeded"
	case out.OOM:
		tr.Error = "memory limit exceeded"
	case out.ExitCode != 0:
		tr.Error = runtimeError(out)
	default:
		tr.Passed = tr.Actual == strings.TrimSpace(test.ExpectedOutput)
	}

	return tr
}

// runtimeError формирует сообщение об ошибке выполнения
func runtimeError(out *sandbox.Output) string {
	stderr := strings.TrimSpace(out.Stderr)
	if stderr != "" {
		return stderr
	}
	return fmt.Sprintf("process exited with code %d", out.ExitCode)
}

// dedupeKey - ключ идемпотентности (username, problem, room, source)
func dedupeKey(sub *domain.Submission) string {
	h := sha256.New()
	h.Write([]byte(sub.Username))
	h.Write([]byte{0})
	h.Write([]byte(sub.ProblemID.String()))
	h.Write([]byte{0})
	h.Write([]byte(sub.RoomCode))
	h.Write([]byte{0})
	h.Write([]byte(sub.Source))
	return "submit:" + hex.EncodeToString(h.Sum(nil))
}

func (p *Pipeline) cachedResult(ctx context.Context, key string) *domain.SubmissionResult {
	if p.results == nil {
		return nil
	}
	raw, err := p.results.Get(ctx, key)
	if err != nil || raw == "" {
		return nil
	}
	var result domain.SubmissionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil
	}
	return &result
}

func (p *Pipeline) storeResult(ctx context.Context, key string, result *domain.SubmissionResult) {
	if p.results == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := p.results.Set(ctx, key, string(raw), dedupeWindow); err != nil {
		p.log.LogError("Failed to cache submission result", err)
	}
}
