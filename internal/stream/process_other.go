//go:build !unix

package stream

import (
	"errors"
	"os"
	"os/exec"
)

func configureProcess(*exec.Cmd) {}

// Without process groups ffmpeg gets no chance to flush; both paths kill.
func signalTerminate(p *os.Process) error { return signalKill(p) }

func signalKill(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
