package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmstu-itstech/bitbattle/internal/config"
	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// Input - один запуск недоверенного исходника против одного stdin
type Input struct {
	Language string
	Source   string
	Stdin    string
}

// Output - результат запуска
type Output struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
	TimedOut   bool
	OOM        bool
}

// languageSpec описывает имя файла исходника и команду запуска внутри контейнера.
// Компилируемые языки собирают в tmpfs /tmp; /src смонтирован только для чтения.
type languageSpec struct {
	file string
	cmd  []string
}

var languageSpecs = map[string]languageSpec{
	"javascript": {"main.js", []string{"node", "/src/main.js"}},
	"python":     {"main.py", []string{"python3", "/src/main.py"}},
	"java":       {"Main.java", []string{"sh", "-c", "javac -d /tmp /src/Main.java && exec java -cp /tmp Main"}},
	"c":          {"main.c", []string{"sh", "-c", "gcc -O2 -o /tmp/main /src/main.c && exec /tmp/main"}},
	"cpp":        {"main.cpp", []string{"sh", "-c", "g++ -O2 -o /tmp/main /src/main.cpp && exec /tmp/main"}},
	"rust":       {"main.rs", []string{"sh", "-c", "rustc -O -o /tmp/main /src/main.rs && exec /tmp/main"}},
	"go":         {"main.go", []string{"sh", "-c", "GOCACHE=/tmp/gocache go run /src/main.go"}},
}

// normalizeLanguage приводит имя языка к ключу languageSpecs
func normalizeLanguage(language string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(language))
	switch key {
	case "js", "node":
		key = "javascript"
	case "py", "python3":
		key = "python"
	case "c++":
		key = "cpp"
	case "golang":
		key = "go"
	}
	_, ok := languageSpecs[key]
	return key, ok
}

// SupportedLanguage проверяет, поддерживается ли язык песочницей
func SupportedLanguage(language string) bool {
	_, ok := normalizeLanguage(language)
	return ok
}

// Runner выполняет недоверенные решения в изолированных Docker контейнерах.
// Runner не хранит состояния между запусками; одновременность ограничена Pool.
type Runner struct {
	config      config.SandboxConfig
	dockerClient *client.Client
	pool        *Pool
	workDir     string // Директория для исходников внутри процесса сервера
	hostWorkDir string // Путь на реальном хосте для Docker-in-Docker
	log         *logger.Logger
}

// NewRunner создаёт новый runner
func NewRunner(cfg config.SandboxConfig, workDir, hostWorkDir string, pool *Pool, log *logger.Logger) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if hostWorkDir == "" {
		hostWorkDir = workDir
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox work dir: %w", err)
	}

	return &Runner{
		config:       cfg,
		dockerClient: cli,
		pool:         pool,
		workDir:      workDir,
		hostWorkDir:  hostWorkDir,
		log:          log,
	}, nil
}

// Run выполняет один запуск. Блокируется на семафоре пула; дедлайн ожидания
// приходит через ctx вызывающего.
func (r *Runner) Run(ctx context.Context, in Input) (*Output, error) {
	key, ok := normalizeLanguage(in.Language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", in.Language)
	}
	spec := languageSpecs[key]

	if err := r.pool.Acquire(ctx); err != nil {
		return nil, err
	}
	defer r.pool.Release()

	// Исходник кладём в одноразовую директорию, смонтированную read-only
	srcDir, err := os.MkdirTemp(r.workDir, "run-")
	if err != nil {
		return nil, fmt.Errorf("failed to create source dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(srcDir) }()

	if err := os.WriteFile(filepath.Join(srcDir, spec.file), []byte(in.Source), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write source: %w", err)
	}

	if r.pool.metrics != nil {
		r.pool.metrics.RecordExecutionStart()
	}

	start := time.Now()
	out, err := r.runInDocker(ctx, spec, srcDir, in.Stdin)
	elapsed := time.Since(start)

	if r.pool.metrics != nil {
		r.pool.metrics.RecordExecutionComplete(key, executionStatus(out, err), elapsed)
	}
	if err != nil {
		return nil, err
	}
	out.DurationMs = elapsed.Milliseconds()

	r.log.Debug("Sandbox run finished",
		zap.String("language", key),
		zap.Int("exit_code", out.ExitCode),
		zap.Int64("duration_ms", out.DurationMs),
		zap.Bool("timed_out", out.TimedOut),
		zap.Bool("oom", out.OOM),
	)

	return out, nil
}

// runInDocker запускает команду в одноразовом контейнере
func (r *Runner) runInDocker(ctx context.Context, spec languageSpec, srcDir, stdin string) (*Output, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.config.WallTimeout)
	defer cancel()

	containerConfig := &container.Config{
		Image:           r.config.Image,
		Cmd:             spec.cmd,
		Tty:             false,
		OpenStdin:       true,
		StdinOnce:       true,
		AttachStdin:     true,
		NetworkDisabled: r.config.NetworkDisabled,
		WorkingDir:      "/tmp",
		User:            "65534:65534", // nobody
	}

	securityOpts := []string{
		"no-new-privileges:true",
	}
	if r.config.SeccompProfile != "" {
		securityOpts = append(securityOpts, "seccomp="+r.config.SeccompProfile)
	}
	if r.config.AppArmorProfile != "" {
		securityOpts = append(securityOpts, "apparmor="+r.config.AppArmorProfile)
	}

	memoryBytes := r.config.MemoryLimitMiB * 1024 * 1024
	pidsLimit := r.config.PidsLimit

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			CPUQuota:       r.config.CPUQuota,
			CPUPeriod:      100000, // 100ms period
			Memory:         memoryBytes,
			MemorySwap:     memoryBytes, // Запрещаем swap
			PidsLimit:      &pidsLimit,
			CpusetCpus:     r.config.CPUSetCPUs,
			OomKillDisable: boolPtr(false),
			Ulimits: []*container.Ulimit{
				{Name: "nofile", Soft: 64, Hard: 64},
				{Name: "core", Soft: 0, Hard: 0},
				{Name: "fsize", Soft: 10485760, Hard: 10485760},
			},
		},
		Binds: []string{
			fmt.Sprintf("%s:/src:ro", r.toHostPath(srcDir)),
		},
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		SecurityOpt:    securityOpts,
		CapDrop:        []string{"ALL"},
		Tmpfs: map[string]string{
			"/tmp": "rw,exec,nosuid,size=128m", // Единственное место записи; exec нужен собранным бинарям
		},
		AutoRemove: false, // Отключаем автоудаление чтобы получить логи
	}

	resp, err := r.dockerClient.ContainerCreate(execCtx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	containerID := resp.ID
	defer r.cleanup(containerID)

	// stdin подключаем до старта, чтобы не потерять ранний read
	attach, err := r.dockerClient.ContainerAttach(execCtx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach stdin: %w", err)
	}
	defer attach.Close()

	if err := r.dockerClient.ContainerStart(execCtx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	go func() {
		_, _ = attach.Conn.Write([]byte(stdin))
		_ = attach.CloseWrite()
	}()

	statusCh, errCh := r.dockerClient.ContainerWait(execCtx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("error waiting for container: %w", err)
		}
		return nil, fmt.Errorf("unexpected nil container wait error")

	case status := <-statusCh:
		stdout, stderr, err := r.containerLogs(execCtx, containerID)
		if err != nil {
			return nil, fmt.Errorf("container exited with code %d, failed to get logs: %w", status.StatusCode, err)
		}

		out := &Output{
			Stdout:   stdout,
			Stderr:   stderr,
			ExitCode: int(status.StatusCode),
		}
		out.OOM = r.wasOOMKilled(containerID)
		return out, nil

	case <-execCtx.Done():
		// Таймаут: останавливаем контейнер и сохраняем частичный stdout
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = r.dockerClient.ContainerStop(stopCtx, containerID, container.StopOptions{})

		stdout, stderr, _ := r.containerLogs(stopCtx, containerID)
		return &Output{
			Stdout:   stdout,
			Stderr:   stderr,
			ExitCode: -1,
			TimedOut: true,
		}, nil
	}
}

// containerLogs читает stdout/stderr контейнера. Docker мультиплексирует оба
// потока в один; stdcopy разбирает кадры обратно.
func (r *Runner) containerLogs(ctx context.Context, containerID string) (string, string, error) {
	logs, err := r.dockerClient.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", err
	}

	return sanitize(stdout.String()), sanitize(stderr.String()), nil
}

// wasOOMKilled проверяет, убил ли контейнер OOM killer
func (r *Runner) wasOOMKilled(containerID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	inspect, err := r.dockerClient.ContainerInspect(ctx, containerID)
	if err != nil || inspect.State == nil {
		return false
	}
	return inspect.State.OOMKilled
}

// cleanup удаляет контейнер
func (r *Runner) cleanup(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = r.dockerClient.ContainerStop(ctx, containerID, container.StopOptions{})

	err := r.dockerClient.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force: true,
	})
	if err != nil {
		r.log.Error("Failed to remove container",
			zap.Error(err),
			zap.String("container_id", containerID),
		)
	}
}

// toHostPath преобразует путь процесса в путь на хосте (Docker-in-Docker)
func (r *Runner) toHostPath(path string) string {
	if strings.HasPrefix(path, r.workDir) {
		return strings.Replace(path, r.workDir, r.hostWorkDir, 1)
	}
	return path
}

// executionStatus - метка статуса прогона для метрик
func executionStatus(out *Output, err error) string {
	switch {
	case err != nil:
		return "error"
	case out.TimedOut:
		return "timeout"
	case out.OOM:
		return "oom"
	case out.ExitCode != 0:
		return "nonzero_exit"
	default:
		return "completed"
	}
}

// sanitize очищает строку от символов, недопустимых в PostgreSQL (null bytes)
func sanitize(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// Close закрывает Docker клиент
func (r *Runner) Close() error {
	if r.dockerClient != nil {
		return r.dockerClient.Close()
	}
	return nil
}

// boolPtr возвращает указатель на bool
func boolPtr(b bool) *bool {
	return &b
}
