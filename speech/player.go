package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// VolumePlaceholder in ExecPlayer.Args is replaced with the volume as a
// percentage (0-100).
const VolumePlaceholder = "{volume}"

// ExecPlayer plays files with an external command. For ffplay the window is
// suppressed and the volume is passed through. Other commands receive Args,
// with VolumePlaceholder substituted, followed by the file path.
type ExecPlayer struct {
	Command string
	Args    []string
}

// NewExecPlayer returns a player for command, defaulting to ffplay. A
// non-ffplay command whose args carry no VolumePlaceholder cannot follow
// the volume setting, which is logged once here.
func NewExecPlayer(command string, args ...string) *ExecPlayer {
	if command == "" {
		command = "ffplay"
	}
	p := &ExecPlayer{Command: command, Args: args}
	if !p.isFFplay() && !slices.ContainsFunc(args, func(a string) bool { return strings.Contains(a, VolumePlaceholder) }) {
		slog.Warn("player has no volume argument; volume setting ignored",
			slog.String("component", "speech"), slog.String("player", command),
			slog.String("hint", "add "+VolumePlaceholder+" to TTS_PLAYER_ARGS"))
	}
	return p
}

func (p *ExecPlayer) isFFplay() bool { return filepath.Base(p.Command) == "ffplay" }

func (p *ExecPlayer) args(path string, volume float64) []string {
	pct := strconv.Itoa(int(volume*100 + 0.5))
	args := make([]string, 0, len(p.Args)+8)
	for _, a := range p.Args {
		args = append(args, strings.ReplaceAll(a, VolumePlaceholder, pct))
	}
	if p.isFFplay() {
		args = append(args, "-nodisp", "-autoexit", "-loglevel", "quiet", "-volume", pct)
	}
	return append(args, path)
}

// Play starts the command. ctx only bounds process start; use Stop to end
// playback early.
func (p *ExecPlayer) Play(ctx context.Context, path string, volume float64) (Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(p.Command, p.args(path, volume)...) //nolint:gosec // command comes from operator config
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrPlayback, p.Command, err)
	}
	pb := &execPlayback{cmd: cmd, done: make(chan struct{})}
	go func() {
		pb.waitErr = cmd.Wait()
		close(pb.done)
	}()
	return pb, nil
}

type execPlayback struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	stop    sync.Once
}

func (p *execPlayback) IsPlaying() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execPlayback) Stop() error {
	var err error
	p.stop.Do(func() {
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = fmt.Errorf("%w: kill: %v", ErrPlayback, kerr)
		}
	})
	return err
}

// Close stops playback and waits for the process to exit.
func (p *execPlayback) Close() error {
	err := p.Stop()
	<-p.done
	return err
}
