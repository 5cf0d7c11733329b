/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build unix

package device

import (
	"errors"
	"os"
	"syscall"
)

var errNoProcess = errors.New("no process")

func suspendProcess(p *os.Process) error {
	if p == nil {
		return errNoProcess
	}
	return p.Signal(syscall.SIGSTOP)
}

func resumeProcess(p *os.Process) error {
	if p == nil {
		return errNoProcess
	}
	return p.Signal(syscall.SIGCONT)
}
