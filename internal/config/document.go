// Package config parses the desired-state document and the engine settings
// file, validating both with the shared validator instance.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/stated/internal/state"
	statederrors "github.com/alexisbeaulieu97/stated/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

var errEmptyDocument = errors.New("document is empty")

// document mirrors the on-disk desired-state layout. JSON documents are
// accepted since JSON is valid YAML. Domain names are opaque keys; names
// without a backend are skipped by the engine, not rejected here.
type document struct {
	Version *uint          `yaml:"version" validate:"required"`
	Plugins map[string]any `yaml:"plugins"`
}

// LoadDesiredState reads and parses the document at path.
func LoadDesiredState(path string) (*state.DesiredState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, statederrors.NewIOError(path, "read", err)
	}
	return ParseDesiredState(data, path)
}

// ParseDesiredState parses a desired-state document. source names the input
// in error messages.
func ParseDesiredState(data []byte, source string) (*state.DesiredState, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, statederrors.NewConfigParseError(source, 0, errEmptyDocument)
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, statederrors.NewConfigParseError(source, 0, errEmptyDocument)
		}
		return nil, statederrors.NewConfigParseError(source, extractLine(err), err)
	}

	if err := ValidateStruct(&doc); err != nil {
		return nil, statederrors.NewConfigParseError(source, 0, err)
	}

	plugins := doc.Plugins
	if plugins == nil {
		plugins = map[string]any{}
	}
	return &state.DesiredState{Version: *doc.Version, Plugins: plugins}, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
