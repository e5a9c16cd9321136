// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrUsage marks errors caused by bad command-line input. Fatal exits
// with status 2 for them.
var ErrUsage = errors.New("usage")

// Fatal writes "error: err" to stderr and exits: status 2 for usage
// errors, 1 otherwise. Use it in main() for errors from run(), where
// the structured logger may not be initialized.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(writer io.Writer, err error) int {
	fmt.Fprintf(writer, "error: %v\n", err)
	if errors.Is(err, ErrUsage) {
		return 2
	}
	return 1
}
