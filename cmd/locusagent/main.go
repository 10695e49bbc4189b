// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
)

// Exit codes per §6's CLI surface.
const (
	exitSuccess           = 0
	exitUnrecoverable     = 1
	exitUserCancel        = 2
	exitRepoRootDetection = 3
	exitSandboxConfig     = 4
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a run error to one of §6's exit codes. Errors that
// don't carry an explicit code (a bug in a dependency, an
// unanticipated panic-recovery path) fall back to exitUnrecoverable.
func exitCodeFor(err error) int {
	var ce *codedError
	if asCodedError(err, &ce) {
		return ce.code
	}
	return exitUnrecoverable
}
