package host

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/buzzboard/buzzboard/internal/game"
	"github.com/buzzboard/buzzboard/internal/roomcode"
)

// API is the HTTP control surface the host display drives: the board,
// judging, steals and score overrides. It talks straight to the host's
// session; players never touch this server.
type API struct {
	host *Host
}

// NewAPI builds the control API around a host.
func NewAPI(h *Host) *API {
	return &API{host: h}
}

// Handler returns the routed, CORS-wrapped handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("POST /api/setup", a.handleSetup)
	mux.HandleFunc("POST /api/question/select", a.handleSelectQuestion)
	mux.HandleFunc("POST /api/answer", a.handleMarkAnswer)
	mux.HandleFunc("POST /api/answer/reveal", a.handleReveal)
	mux.HandleFunc("POST /api/steal/select", a.handleSelectSteal)
	mux.HandleFunc("POST /api/steal/skip", a.handleSkipSteal)
	mux.HandleFunc("POST /api/score", a.handleSetScore)
	mux.HandleFunc("POST /api/room/new", a.handleNewRoom)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	st := a.host.Session().State()
	if st.RoomCode == "" {
		st.RoomCode = a.host.RoomCode()
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TeamNames []string `json:"teamNames"`
	}
	if !decode(w, r, &req) {
		return
	}
	a.run(w, r, func(s *game.Session) (game.Effects, error) {
		return s.SetupTeams(req.TeamNames, a.host.RoomCode())
	})
}

func (a *API) handleSelectQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CategoryID string `json:"categoryId"`
		QuestionID string `json:"questionId"`
	}
	if !decode(w, r, &req) {
		return
	}
	a.run(w, r, func(s *game.Session) (game.Effects, error) {
		return s.SelectQuestion(req.CategoryID, req.QuestionID)
	})
}

func (a *API) handleMarkAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Correct bool `json:"correct"`
	}
	if !decode(w, r, &req) {
		return
	}
	a.run(w, r, func(s *game.Session) (game.Effects, error) {
		return s.MarkAnswer(req.Correct)
	})
}

func (a *API) handleReveal(w http.ResponseWriter, r *http.Request) {
	a.run(w, r, func(s *game.Session) (game.Effects, error) {
		return s.RevealAnswer()
	})
}

func (a *API) handleSelectSteal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TeamID string `json:"teamId"`
	}
	if !decode(w, r, &req) {
		return
	}
	a.run(w, r, func(s *game.Session) (game.Effects, error) {
		return s.SelectSteal(req.TeamID)
	})
}

func (a *API) handleSkipSteal(w http.ResponseWriter, r *http.Request) {
	a.run(w, r, func(s *game.Session) (game.Effects, error) {
		return s.SkipSteal()
	})
}

func (a *API) handleSetScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TeamID string `json:"teamId"`
		Score  int    `json:"score"`
	}
	if !decode(w, r, &req) {
		return
	}
	a.run(w, r, func(s *game.Session) (game.Effects, error) {
		return s.SetScore(req.TeamID, req.Score)
	})
}

func (a *API) handleNewRoom(w http.ResponseWriter, r *http.Request) {
	newCode := roomcode.Generate()
	a.run(w, r, func(s *game.Session) (game.Effects, error) {
		return s.StartNewRoom(newCode)
	})
}

// run executes a session operation, maps its errors to status codes and
// responds with the fresh state.
func (a *API) run(w http.ResponseWriter, r *http.Request, op func(*game.Session) (game.Effects, error)) {
	if err := a.host.Do(r.Context(), op); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, game.ErrWrongPhase),
			errors.Is(err, game.ErrAlreadyAnswered),
			errors.Is(err, game.ErrIneligibleTeam):
			status = http.StatusConflict
		case errors.Is(err, game.ErrTeamCount),
			errors.Is(err, game.ErrUnknownTeam),
			errors.Is(err, game.ErrUnknownQuestion),
			errors.Is(err, game.ErrNoAnsweringTeam):
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.host.Session().State())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
