package roomsync

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/buzzboard/buzzboard/internal/models"
)

func TestParseTeams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want []models.Team
	}{
		{
			name: "plain array",
			data: `[{"id":"t1","name":"Reds","score":100},{"id":"t2","name":"Blues","score":-200}]`,
			want: []models.Team{
				{ID: "t1", Name: "Reds", Score: 100},
				{ID: "t2", Name: "Blues", Score: -200},
			},
		},
		{
			name: "object with index keys keeps order",
			data: `{"1":{"id":"t2","name":"Blues","score":0},"0":{"id":"t1","name":"Reds","score":0}}`,
			want: []models.Team{
				{ID: "t1", Name: "Reds", Score: 0},
				{ID: "t2", Name: "Blues", Score: 0},
			},
		},
		{
			name: "entries missing fields are dropped",
			data: `[{"id":"t1","name":"Reds","score":0},{"id":"t2","name":"NoScore"},{"name":"NoID","score":5},null]`,
			want: []models.Team{{ID: "t1", Name: "Reds", Score: 0}},
		},
		{
			name: "wrong field types are dropped",
			data: `[{"id":1,"name":"Reds","score":0},{"id":"t2","name":"Blues","score":"high"}]`,
			want: []models.Team{},
		},
		{
			name: "garbage document",
			data: `"not a roster"`,
			want: nil,
		},
		{
			name: "empty array",
			data: `[]`,
			want: []models.Team{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseTeams([]byte(tt.data))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseTeams(%s) mismatch (-want +got):\n%s", tt.data, diff)
			}
		})
	}
}
