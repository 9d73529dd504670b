package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"campaign-orchestrator/core/models"
)

// CommandFactory runs an external generator per scene as
//
//	<command...> --scene <path> --num-episodes <n> [--exp-config <file>] [--override <kv>]...
//
// which must print one JSON episode object per line on stdout.
type CommandFactory struct {
	command []string
	logger  *zap.Logger
}

// NewCommandFactory creates a factory for command.
func NewCommandFactory(command []string, logger *zap.Logger) (*CommandFactory, error) {
	if len(command) == 0 {
		return nil, errors.New("simulator command is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandFactory{command: command, logger: logger}, nil
}

// Make checks the scene asset exists and returns a simulator for it. The
// process is started when episodes are first requested.
func (f *CommandFactory) Make(_ context.Context, scenePath string, cfg Config) (Simulator, error) {
	if _, err := os.Stat(scenePath); err != nil {
		return nil, fmt.Errorf("scene asset: %w", err)
	}
	return &commandSimulator{factory: f, scenePath: scenePath, cfg: cfg}, nil
}

type commandSimulator struct {
	factory   *CommandFactory
	scenePath string
	cfg       Config
	consumed  bool
}

func (s *commandSimulator) args(n int) []string {
	args := append([]string{}, s.factory.command[1:]...)
	args = append(args, "--scene", s.scenePath, "--num-episodes", strconv.Itoa(n))
	if s.cfg.ExpConfig != "" {
		args = append(args, "--exp-config", s.cfg.ExpConfig)
	}
	for _, o := range s.cfg.Overrides {
		args = append(args, "--override", o)
	}
	return args
}

func (s *commandSimulator) GenerateEpisodes(ctx context.Context, n int) iter.Seq2[models.Episode, error] {
	return func(yield func(models.Episode, error) bool) {
		if s.consumed {
			yield(nil, ErrExhausted)
			return
		}
		s.consumed = true
		if n <= 0 {
			return
		}

		name := s.factory.command[0]
		cmd := exec.CommandContext(ctx, name, s.args(n)...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(nil, err)
			return
		}
		if err := cmd.Start(); err != nil {
			yield(nil, fmt.Errorf("start simulator %s: %w", name, err))
			return
		}
		stop := func() {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}

		dec := json.NewDecoder(stdout)
		for count := 0; count < n; count++ {
			var ep models.Episode
			err := dec.Decode(&ep)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				stop()
				yield(nil, fmt.Errorf("decode episode %d from %s: %w", count, s.scenePath, err))
				return
			}
			if len(ep) == 0 {
				stop()
				yield(nil, fmt.Errorf("episode %d from %s is not a JSON object", count, s.scenePath))
				return
			}
			if !yield(ep, nil) {
				stop()
				return
			}
			if count == n-1 {
				// the generator may keep printing past n
				stop()
				return
			}
		}

		if err := cmd.Wait(); err != nil {
			yield(nil, fmt.Errorf("simulator %s for %s: %w: %s", name, s.scenePath, err, strings.TrimSpace(stderr.String())))
			return
		}
		s.factory.logger.Debug("simulator finished", zap.String("scene", s.scenePath))
	}
}

func (s *commandSimulator) Close() error {
	return nil
}
