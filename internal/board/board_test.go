package board

import (
	"errors"
	"strings"
	"testing"
)

const validBoard = `
categories:
  - name: Science
    questions:
      - {question: "Chemical symbol for gold", answer: "Au", value: 100}
      - {question: "Planet closest to the sun", answer: "Mercury", value: 200}
      - {question: "Unit of electrical resistance", answer: "Ohm", value: 300}
      - {question: "Gas plants absorb", answer: "Carbon dioxide", value: 400}
      - {question: "Speed of light in vacuum, km/s", answer: "About 300000", value: 500}
  - id: hist
    name: History
    questions:
      - {id: h1, question: "Year the Berlin Wall fell", answer: "1989", value: 100}
      - {question: "First person on the moon", answer: "Neil Armstrong", value: 200}
      - {question: "Empire ruled by Caesar", answer: "Roman", value: 300}
      - {question: "War ended by the Treaty of Versailles", answer: "World War I", value: 400}
      - {question: "Civilization that built Machu Picchu", answer: "Inca", value: 500}
`

func TestParseValidBoard(t *testing.T) {
	t.Parallel()
	cats, err := Parse([]byte(validBoard))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("got %d categories, want 2", len(cats))
	}
	if cats[0].ID != "cat-0" {
		t.Errorf("generated category id = %q, want cat-0", cats[0].ID)
	}
	if cats[1].ID != "hist" {
		t.Errorf("explicit category id = %q, want hist", cats[1].ID)
	}
	if cats[1].Questions[0].ID != "h1" {
		t.Errorf("explicit question id = %q, want h1", cats[1].Questions[0].ID)
	}
	if got := cats[1].Questions[1].ID; got != "q-1-2" {
		t.Errorf("generated question id = %q, want q-1-2", got)
	}
	if cats[0].Questions[4].Value != 500 {
		t.Errorf("value = %d, want 500", cats[0].Questions[4].Value)
	}
	for _, cat := range cats {
		for _, q := range cat.Questions {
			if q.Answered {
				t.Fatalf("question %s starts answered", q.ID)
			}
		}
	}
}

func TestParseRejectsBadBoards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mangle  func(string) string
		wantErr string
	}{
		{
			name: "wrong question count",
			mangle: func(s string) string {
				return strings.Replace(s, `      - {id: h1, question: "Year the Berlin Wall fell", answer: "1989", value: 100}`+"\n", "", 1)
			},
			wantErr: "has 4 questions",
		},
		{
			name: "zero value",
			mangle: func(s string) string {
				return strings.Replace(s, "value: 500}", "value: 0}", 1)
			},
			wantErr: "value must be positive",
		},
		{
			name: "duplicate value tier",
			mangle: func(s string) string {
				return strings.Replace(s, "value: 200}", "value: 100}", 1)
			},
			wantErr: "must ascend",
		},
		{
			name: "descending value tiers",
			mangle: func(s string) string {
				return strings.Replace(s, "value: 400}", "value: 250}", 1)
			},
			wantErr: "must ascend",
		},
		{
			name: "missing answer",
			mangle: func(s string) string {
				return strings.Replace(s, `answer: "Au", `, `answer: "", `, 1)
			},
			wantErr: "missing text or answer",
		},
		{
			name: "duplicate category id",
			mangle: func(s string) string {
				return strings.Replace(s, "- name: Science", "- id: hist\n    name: Science", 1)
			},
			wantErr: "duplicate category id",
		},
		{
			name: "missing category name",
			mangle: func(s string) string {
				return strings.Replace(s, "    name: History\n", "", 1)
			},
			wantErr: "missing name",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.mangle(validBoard)))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseEmptyBoard(t *testing.T) {
	t.Parallel()
	if _, err := Parse([]byte("categories: []")); !errors.Is(err, ErrEmptyBoard) {
		t.Errorf("err = %v, want ErrEmptyBoard", err)
	}
}
