/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build !unix

package device

import (
	"errors"
	"os"
)

var errPauseUnsupported = errors.New("pause is not supported on this platform")

func suspendProcess(*os.Process) error { return errPauseUnsupported }

func resumeProcess(*os.Process) error { return errPauseUnsupported }
