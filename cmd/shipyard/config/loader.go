// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Shipyard/pkg/logging"
)

// DefaultPath is read when neither --config nor SHIPYARD_CONFIG is set.
const DefaultPath = "shipyard.yaml"

// PathEnv overrides DefaultPath.
const PathEnv = "SHIPYARD_CONFIG"

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrUnknownHost is returned by SelectHosts for a name not in hosts.
	ErrUnknownHost = errors.New("unknown host")
)

var (
	configValidate = validator.New()
	projectNameRe  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

func init() {
	_ = configValidate.RegisterValidation("projectname", func(fl validator.FieldLevel) bool {
		return projectNameRe.MatchString(fl.Field().String())
	})
	_ = configValidate.RegisterValidation("relpath", func(fl validator.FieldLevel) bool {
		p := fl.Field().String()
		clean := path.Clean(p)
		return !path.IsAbs(p) && clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
	})
}

// ResolvePath picks the config file: flag, then SHIPYARD_CONFIG, then
// DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(PathEnv); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads, defaults and validates the config at path.
//
// # Outputs
//
//   - *Config: Validated, with "~" expanded in local paths.
//   - error: Read or parse errors, or ErrInvalidConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	return &cfg, nil
}

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := configValidate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.SSH.KnownHosts == "" && !cfg.SSH.InsecureIgnoreHostKey {
		return fmt.Errorf("%w: ssh.known_hosts is required unless ssh.insecure_ignore_host_key is set", ErrInvalidConfig)
	}
	if cfg.Telemetry.TraceExporter == "otlp" && cfg.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("%w: telemetry.otlp_endpoint is required for the otlp exporter", ErrInvalidConfig)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "unique":
		return field + " must have unique " + strings.ToLower(fe.Param()) + "s"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "startswith":
		return field + " must be an absolute path"
	case "relpath":
		return fmt.Sprintf("%s %q must be relative to shared/", field, fe.Value())
	case "projectname":
		return fmt.Sprintf("%s %q may only contain letters, digits, '.', '_' and '-'", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}

func (c *Config) expandPaths() {
	c.SSH.KeyFile = logging.ExpandPath(c.SSH.KeyFile)
	c.SSH.KnownHosts = logging.ExpandPath(c.SSH.KnownHosts)
	c.Lock.LocalDir = logging.ExpandPath(c.Lock.LocalDir)
	c.History.Path = logging.ExpandPath(c.History.Path)
	c.Log.Dir = logging.ExpandPath(c.Log.Dir)
}

// SelectHosts filters hosts by name and role, keeping configuration order.
//
// # Description
//
// With no names and no roles every host is returned. Names must all
// exist. When both are given a host must match a name and a role.
func (c *Config) SelectHosts(names, roles []string) ([]HostConfig, error) {
	known := make(map[string]bool, len(c.Hosts))
	for _, h := range c.Hosts {
		known[h.Name] = true
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if !known[n] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownHost, n)
		}
		wanted[n] = true
	}

	var out []HostConfig
	for _, h := range c.Hosts {
		if len(names) > 0 && !wanted[h.Name] {
			continue
		}
		if len(roles) > 0 && !h.HasRole(roles...) {
			continue
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no host matches hosts=%v roles=%v", ErrUnknownHost, names, roles)
	}
	return out, nil
}
