// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the intake
// receipt server.
//
// Configuration is loaded from a single file named either by the
// INTAKE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no search path and no per-field
// environment override.
//
// The file may carry development and production sections that
// override base values when [Config].Environment matches. Production
// requires authentication unless its section says otherwise.
//
// Path fields expand ${HOME}, ${INTAKE_ROOT} and ${VAR:-default}
// after loading.
package config
