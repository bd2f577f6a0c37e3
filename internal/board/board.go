// Package board loads the question board from a YAML file and turns it
// into the category/question tree the session plays.
package board

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/buzzboard/buzzboard/internal/models"
)

// ErrEmptyBoard is returned when the file parses but holds no
// categories.
var ErrEmptyBoard = errors.New("board: no categories")

type boardFile struct {
	Categories []categoryEntry `yaml:"categories"`
}

type categoryEntry struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	Questions []questionEntry `yaml:"questions"`
}

type questionEntry struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
	Value    int    `yaml:"value"`
}

// LoadFile reads and validates a board definition.
func LoadFile(path string) ([]models.Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read board file: %w", err)
	}
	cats, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("board file %s: %w", path, err)
	}
	return cats, nil
}

// Parse decodes a YAML board. Missing IDs are filled from position so
// hand-written boards stay terse; everything else is validated.
func Parse(data []byte) ([]models.Category, error) {
	var f boardFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse board: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, ErrEmptyBoard
	}

	seen := make(map[string]bool)
	cats := make([]models.Category, 0, len(f.Categories))
	for ci, ce := range f.Categories {
		cat := models.Category{
			ID:   ce.ID,
			Name: strings.TrimSpace(ce.Name),
		}
		if cat.ID == "" {
			cat.ID = fmt.Sprintf("cat-%d", ci)
		}
		if cat.Name == "" {
			return nil, fmt.Errorf("category %q: missing name", cat.ID)
		}
		if seen[cat.ID] {
			return nil, fmt.Errorf("duplicate category id %q", cat.ID)
		}
		seen[cat.ID] = true

		if len(ce.Questions) != models.QuestionsPerCategory {
			return nil, fmt.Errorf("category %q: has %d questions, want %d",
				cat.ID, len(ce.Questions), models.QuestionsPerCategory)
		}
		for qi, qe := range ce.Questions {
			q := models.Question{
				ID:     qe.ID,
				Text:   strings.TrimSpace(qe.Question),
				Answer: strings.TrimSpace(qe.Answer),
				Value:  qe.Value,
			}
			if q.ID == "" {
				q.ID = fmt.Sprintf("q-%d-%d", ci, qi+1)
			}
			if q.Text == "" || q.Answer == "" {
				return nil, fmt.Errorf("category %q question %q: missing text or answer", cat.ID, q.ID)
			}
			if q.Value <= 0 {
				return nil, fmt.Errorf("category %q question %q: value must be positive, got %d", cat.ID, q.ID, q.Value)
			}
			// One question per value tier, listed lowest first.
			if qi > 0 && q.Value <= cat.Questions[qi-1].Value {
				return nil, fmt.Errorf("category %q question %q: values must ascend, got %d after %d",
					cat.ID, q.ID, q.Value, cat.Questions[qi-1].Value)
			}
			if seen[q.ID] {
				return nil, fmt.Errorf("duplicate question id %q", q.ID)
			}
			seen[q.ID] = true
			cat.Questions = append(cat.Questions, q)
		}
		cats = append(cats, cat)
	}
	return cats, nil
}
