package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/wizard"
)

func (s *Server) session(r *http.Request) (*wizard.Session, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, wizard.ErrSessionNotFound
	}
	return s.deps.Sessions.Get(id)
}

// withSession adapts a session call returning a view.
func (s *Server) withSession(fn func(*http.Request, *wizard.Session) (wizard.View, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.session(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		v, err := fn(r, sess)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

type valueRequest struct {
	Value string `json:"value"`
}

func decodeValue(r *http.Request) (string, error) {
	var req valueRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", err
	}
	return req.Value, nil
}

// POST /v1/sessions
func (s *Server) openSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, s.deps.Sessions.Open().Snapshot())
}

// GET /v1/sessions/{id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(func(_ *http.Request, sess *wizard.Session) (wizard.View, error) {
		return sess.Snapshot(), nil
	})(w, r)
}

// DELETE /v1/sessions/{id}
func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, wizard.ErrSessionNotFound)
		return
	}
	if err := s.deps.Sessions.Close(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/sessions/{id}/eligible
func (s *Server) eligible(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := sess.EligibleAssets(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) setCollection(w http.ResponseWriter, r *http.Request) {
	s.withSession(func(r *http.Request, sess *wizard.Session) (wizard.View, error) {
		v, err := decodeValue(r)
		if err != nil {
			return wizard.View{}, err
		}
		return sess.SetCollection(v)
	})(w, r)
}

func (s *Server) setToken(w http.ResponseWriter, r *http.Request) {
	s.withSession(func(r *http.Request, sess *wizard.Session) (wizard.View, error) {
		v, err := decodeValue(r)
		if err != nil {
			return wizard.View{}, err
		}
		return sess.SetToken(v)
	})(w, r)
}

type directionRequest struct {
	// Direction is empty to toggle.
	Direction domain.Direction `json:"direction,omitempty"`
}

func (s *Server) setDirection(w http.ResponseWriter, r *http.Request) {
	s.withSession(func(r *http.Request, sess *wizard.Session) (wizard.View, error) {
		var req directionRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				return wizard.View{}, err
			}
		}
		if req.Direction == "" {
			return sess.ToggleDirection()
		}
		return sess.SetDirection(req.Direction)
	})(w, r)
}

type selectRequest struct {
	Kind string `json:"kind"` // source_asset, source_token or destination_asset
	ID   string `json:"id"`
}

func (s *Server) selectItem(w http.ResponseWriter, r *http.Request) {
	s.withSession(func(r *http.Request, sess *wizard.Session) (wizard.View, error) {
		var req selectRequest
		if err := decodeJSON(r, &req); err != nil {
			return wizard.View{}, err
		}
		switch req.Kind {
		case "source_asset":
			return sess.SelectSourceAsset(req.ID)
		case "source_token":
			return sess.SelectSourceToken(req.ID)
		case "destination_asset":
			return sess.SelectDestinationAsset(req.ID)
		default:
			return wizard.View{}, fmt.Errorf("%w: unknown selection kind %q", errBadRequest, req.Kind)
		}
	})(w, r)
}

func (s *Server) advance(w http.ResponseWriter, r *http.Request) {
	s.withSession(func(r *http.Request, sess *wizard.Session) (wizard.View, error) {
		return sess.Advance(r.Context())
	})(w, r)
}

func (s *Server) retreat(w http.ResponseWriter, r *http.Request) {
	s.withSession(func(_ *http.Request, sess *wizard.Session) (wizard.View, error) {
		return sess.Retreat()
	})(w, r)
}

func (s *Server) revalidate(w http.ResponseWriter, r *http.Request) {
	s.withSession(func(r *http.Request, sess *wizard.Session) (wizard.View, error) {
		return sess.ForceRevalidate(r.Context())
	})(w, r)
}
