// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the relay daemon configuration.
//
// Precedence is RELAY_* environment variables, then the YAML file, then
// built-in defaults. The YAML file is parsed strictly. Holder keeps the
// effective configuration and reloads it when the file changes; listeners
// decide which settings they apply live.
package config
