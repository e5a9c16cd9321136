// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestReport(t *testing.T) {
	var buffer bytes.Buffer
	if code := report(&buffer, errors.New("store unavailable")); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if got := buffer.String(); got != "error: store unavailable\n" {
		t.Errorf("output = %q", got)
	}

	buffer.Reset()
	if code := report(&buffer, fmt.Errorf("%w: --config is required", ErrUsage)); code != 2 {
		t.Errorf("usage exit code = %d, want 2", code)
	}
}
