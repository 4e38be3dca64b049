// Package questions loads the question list for a batch run.
package questions

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmpty is returned when a file holds no usable questions.
var ErrEmpty = errors.New("no questions found")

// fileFormat is the YAML layout: either a bare list or a "questions" key.
type fileFormat struct {
	Questions []string `yaml:"questions"`
}

// Load reads questions from path. Files ending in .yaml or .yml are parsed as
// YAML; anything else is plain text with one question per line. Blank lines
// and lines starting with '#' are skipped. Order is preserved and duplicates
// are kept.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}

	var qs []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		qs, err = parseYAML(data)
	default:
		qs, err = parseText(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return qs, nil
}

func parseText(data []byte) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func parseYAML(data []byte) ([]string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	var raw []string
	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&raw); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var f fileFormat
		if err := root.Decode(&f); err != nil {
			return nil, err
		}
		raw = f.Questions
	default:
		return nil, errors.New("expected a list of questions or a questions key")
	}

	out := make([]string, 0, len(raw))
	for _, q := range raw {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out, nil
}
