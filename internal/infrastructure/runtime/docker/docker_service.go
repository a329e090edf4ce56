// internal/infrastructure/runtime/docker/docker_service.go
package docker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"trading-bot-orchestrator/internal/infrastructure/config"
	"trading-bot-orchestrator/internal/types"
	"trading-bot-orchestrator/pkg/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerService - реализация types.ContainerRuntime поверх Docker Engine API.
// Клиент SDK потокобезопасен, один экземпляр делят воркеры диспетчера,
// реконсилятор и хаб логов.
type DockerService struct {
	cli    *client.Client
	config *config.Config
}

// NewDockerService создает клиент контейнерного движка.
// Адрес демона берётся из окружения (DOCKER_HOST и т.п.).
func NewDockerService(cfg *config.Config) (*DockerService, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerService{cli: cli, config: cfg}, nil
}

// Ping проверяет доступность демона
func (ds *DockerService) Ping(ctx context.Context) error {
	if _, err := ds.cli.Ping(ctx); err != nil {
		return types.ErrRuntimeUnavailable.Wrap(err)
	}
	return nil
}

// Close освобождает соединение с демоном
func (ds *DockerService) Close() error {
	return ds.cli.Close()
}

// Create создает контейнер и возвращает его идентификатор в движке
func (ds *DockerService) Create(ctx context.Context, spec types.ContainerSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	containerConfig := &container.Config{
		Image:  spec.Image,
		Env:    env,
		Labels: spec.Labels,
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			CPUQuota: spec.CPUQuota,
		},
	}
	if spec.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.Network)
	}

	resp, err := ds.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", ds.mapError(err)
	}

	logger.Debug("🐳 Создан контейнер %s (%s)", spec.Name, shortID(resp.ID))
	return resp.ID, nil
}

// Start запускает созданный контейнер
func (ds *DockerService) Start(ctx context.Context, engineID string) error {
	if err := ds.cli.ContainerStart(ctx, engineID, container.StartOptions{}); err != nil {
		return ds.mapError(err)
	}
	return nil
}

// Stop останавливает контейнер: graceful с таймаутом grace, затем kill
func (ds *DockerService) Stop(ctx context.Context, engineID string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	if err := ds.cli.ContainerStop(ctx, engineID, container.StopOptions{Timeout: &seconds}); err != nil {
		return ds.mapError(err)
	}
	return nil
}

// Remove удаляет контейнер из движка
func (ds *DockerService) Remove(ctx context.Context, engineID string, force bool) error {
	opts := container.RemoveOptions{Force: force}
	if err := ds.cli.ContainerRemove(ctx, engineID, opts); err != nil {
		return ds.mapError(err)
	}
	return nil
}

// Inspect возвращает наблюдаемое состояние контейнера
func (ds *DockerService) Inspect(ctx context.Context, engineID string) (types.ContainerState, error) {
	info, err := ds.cli.ContainerInspect(ctx, engineID)
	if err != nil {
		return types.ContainerState{}, ds.mapError(err)
	}

	state := types.ContainerState{}
	if info.State != nil {
		state.Running = info.State.Running
		state.ExitCode = info.State.ExitCode
	}
	return state, nil
}

// List возвращает идентификаторы контейнеров, отфильтрованные по меткам
func (ds *DockerService) List(ctx context.Context, labels map[string]string) ([]string, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}

	containers, err := ds.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: args,
	})
	if err != nil {
		return nil, ds.mapError(err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// AttachOutput подключается к потоку вывода контейнера: сначала tail
// последних строк, затем follow. Возвращает канал строк и detach-функцию.
// Канал закрывается при остановке контейнера, ошибке чтения или detach.
func (ds *DockerService) AttachOutput(ctx context.Context, engineID string, tail int) (<-chan types.LogLine, func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)

	reader, err := ds.cli.ContainerLogs(streamCtx, engineID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		cancel()
		return nil, nil, ds.mapError(err)
	}

	lines := pumpLines(streamCtx, reader)

	detach := func() {
		cancel()
	}

	return lines, detach, nil
}

// pumpLines читает мультиплексированный поток движка и шлет строки в
// канал. Канал закрывается при EOF потока, ошибке чтения или отмене
// контекста.
func pumpLines(ctx context.Context, reader io.ReadCloser) <-chan types.LogLine {
	lines := make(chan types.LogLine)

	// Поток docker мультиплексирован (stdout/stderr),
	// stdcopy расшивает его в обычный текстовый поток
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, reader)
		pw.CloseWithError(err)
	}()

	go func() {
		defer close(lines)
		defer reader.Close()
		// Закрытие read-стороны пайпа будит stdcopy-горутину,
		// застрявшую в pw.Write после ухода читателя
		defer pr.Close()

		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := types.LogLine{
				Timestamp: time.Now(),
				Message:   scanner.Text(),
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	return lines
}

// Logs синхронно читает последние n строк лога без подписки
func (ds *DockerService) Logs(ctx context.Context, engineID string, n int) ([]string, error) {
	reader, err := ds.cli.ContainerLogs(ctx, engineID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(n),
	})
	if err != nil {
		return nil, ds.mapError(err)
	}
	defer reader.Close()

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, reader)
		pw.CloseWithError(err)
	}()
	defer pr.Close()

	var result []string
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		result = append(result, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// mapError переводит ошибки SDK в таксономию оркестратора
func (ds *DockerService) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errdefs.IsNotFound(err):
		return types.ErrNotFound.Wrap(err)
	case errdefs.IsInvalidParameter(err):
		return types.ErrResourceLimit.Wrap(err)
	case client.IsErrConnectionFailed(err):
		return types.ErrRuntimeUnavailable.Wrap(err)
	default:
		// Неклассифицированные сбои демона считаем транзиентными:
		// лучше лишний retry, чем ложный failed
		return types.ErrRuntimeUnavailable.Wrap(err)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// компиляционная проверка соответствия контракту
var _ types.ContainerRuntime = (*DockerService)(nil)
