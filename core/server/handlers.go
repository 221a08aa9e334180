package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	cerrors "github.com/birdrest/birdrest/core/errors"
)

func (s *Server) handleSessionToken(writer http.ResponseWriter, request *http.Request) {
	switch request.Method {
	case http.MethodPost:
		body, err := readBody(request)
		if err != nil {
			s.fail(writer, "read session token", err)
			return
		}
		token := strings.TrimSpace(string(body))
		if err := s.sessions.Register(token); err != nil {
			s.fail(writer, "register session token", err)
			return
		}
		writePlain(writer, http.StatusCreated, "")
	case http.MethodDelete:
		token, err := s.authenticate(request)
		if err != nil {
			s.fail(writer, "delete session token", err)
			return
		}
		// Removing the active session may strand a candidate; discard it
		// first so the on-disk target matches the running document again.
		if s.sessions.Active() == token {
			s.mu.Lock()
			if err := s.dropCandidateLocked(request.Context(), token); err != nil {
				s.logger.Error("discard candidate on session delete", "token", token, "error", err)
			}
			s.mu.Unlock()
		}
		s.sessions.Remove(token)
		writePlain(writer, http.StatusOK, "")
	default:
		writePlain(writer, http.StatusMethodNotAllowed, "Failed")
	}
}

func (s *Server) handleRunning(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writePlain(writer, http.StatusMethodNotAllowed, "Failed")
		return
	}
	if _, err := s.authenticate(request); err != nil {
		s.fail(writer, "get running config", err)
		return
	}

	s.mu.Lock()
	data, err := s.running.Serialize()
	s.mu.Unlock()
	if err != nil {
		s.fail(writer, "serialize running config", err)
		return
	}
	writePlain(writer, http.StatusOK, string(data))
}

func (s *Server) handleRunningDiff(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writePlain(writer, http.StatusMethodNotAllowed, "Failed")
		return
	}
	if _, err := s.authenticate(request); err != nil {
		s.fail(writer, "diff running config", err)
		return
	}
	body, err := readBody(request)
	if err != nil {
		s.fail(writer, "read diff document", err)
		return
	}
	if err := s.schema.Validate(body); err != nil {
		s.fail(writer, "validate diff document", err)
		return
	}

	s.mu.Lock()
	patch, err := s.running.Diff(body)
	s.mu.Unlock()
	if err != nil {
		s.fail(writer, "diff running config", err)
		return
	}
	writePlain(writer, http.StatusOK, string(patch))
}

func (s *Server) handleRunningUpdate(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPatch {
		writePlain(writer, http.StatusMethodNotAllowed, "Failed")
		return
	}
	token, err := s.authenticate(request)
	if err != nil {
		s.fail(writer, "update running config", err)
		return
	}
	// The first session to mutate becomes the active one; everyone else
	// conflicts until it finishes or expires.
	if err := s.sessions.SetActive(token); err != nil {
		s.fail(writer, "activate session", err)
		return
	}
	body, err := readBody(request)
	if err != nil {
		s.fail(writer, "read update patch", err)
		return
	}

	if err := s.updateCandidate(request, token, body); err != nil {
		s.fail(writer, "update candidate config", err)
		return
	}
	writePlain(writer, http.StatusOK, "")
}

func (s *Server) handleCandidate(writer http.ResponseWriter, request *http.Request) {
	switch request.Method {
	case http.MethodGet:
		token, err := s.authenticate(request)
		if err != nil {
			s.fail(writer, "get candidate config", err)
			return
		}
		if err := s.sessions.CheckActive(token); err != nil {
			s.fail(writer, "get candidate config", err)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.candidate == nil {
			s.fail(writer, "get candidate config", cerrors.New(cerrors.KindInternal, "there is no candidate config"))
			return
		}
		data, err := s.candidate.Serialize()
		if err != nil {
			s.fail(writer, "serialize candidate config", err)
			return
		}
		writePlain(writer, http.StatusOK, string(data))
	case http.MethodDelete:
		token, err := s.authenticate(request)
		if err != nil {
			s.fail(writer, "delete candidate config", err)
			return
		}
		if err := s.sessions.CheckActive(token); err != nil {
			s.fail(writer, "delete candidate config", err)
			return
		}
		s.sessions.CancelOnce(token)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.dropCandidateLocked(request.Context(), token); err != nil {
			s.fail(writer, "delete candidate config", err)
			return
		}
		writePlain(writer, http.StatusOK, "")
	default:
		writePlain(writer, http.StatusMethodNotAllowed, "Failed")
	}
}

func (s *Server) handleCommit(writer http.ResponseWriter, request *http.Request) {
	token, ok := s.activeSessionPost(writer, request, "commit candidate config")
	if !ok {
		return
	}
	s.sessions.CancelOnce(token)

	if err := s.commitCandidate(request); err != nil {
		s.fail(writer, "commit candidate config", err)
		return
	}
	writePlain(writer, http.StatusOK, "")
}

func (s *Server) handleCommitTimeout(writer http.ResponseWriter, request *http.Request) {
	token, ok := s.activeSessionPost(writer, request, "commit candidate config with timeout")
	if !ok {
		return
	}
	body, err := readBody(request)
	if err != nil {
		s.fail(writer, "read confirm timeout", err)
		return
	}
	window, err := s.parseConfirmWindow(string(body))
	if err != nil {
		s.fail(writer, "parse confirm timeout", err)
		return
	}

	if err := s.commitCandidateWithTimeout(request, token, window); err != nil {
		s.fail(writer, "commit candidate config with timeout", err)
		return
	}
	writePlain(writer, http.StatusOK, "")
}

func (s *Server) handleCommitConfirm(writer http.ResponseWriter, request *http.Request) {
	token, ok := s.activeSessionPost(writer, request, "confirm committed config")
	if !ok {
		return
	}

	if err := s.confirmCommit(token); err != nil {
		s.fail(writer, "confirm committed config", err)
		return
	}
	writePlain(writer, http.StatusOK, "")
}

func (s *Server) handleCommitCancel(writer http.ResponseWriter, request *http.Request) {
	token, ok := s.activeSessionPost(writer, request, "cancel committed config")
	if !ok {
		return
	}

	if err := s.cancelCommit(request, token); err != nil {
		s.fail(writer, "cancel committed config", err)
		return
	}
	writePlain(writer, http.StatusOK, "")
}

func (s *Server) handleLogs(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writePlain(writer, http.StatusMethodNotAllowed, "Failed")
		return
	}
	if _, err := s.authenticate(request); err != nil {
		s.fail(writer, "read error log", err)
		return
	}

	suffix := strings.TrimPrefix(request.URL.Path, "/logs/latest/")
	count, err := strconv.Atoi(suffix)
	if err != nil || count < 1 {
		s.fail(writer, "read error log", cerrors.New(cerrors.KindParse, "log count is not a positive integer"))
		return
	}
	entries := s.errLog.LastN(count)
	var builder strings.Builder
	for _, entry := range entries {
		builder.WriteString(entry)
		builder.WriteByte('\n')
	}
	writePlain(writer, http.StatusOK, builder.String())
}

// activeSessionPost applies the shared guard of the commit family: POST
// method, a valid token, and that token being the active session.
func (s *Server) activeSessionPost(writer http.ResponseWriter, request *http.Request, operation string) (string, bool) {
	if request.Method != http.MethodPost {
		writePlain(writer, http.StatusMethodNotAllowed, "Failed")
		return "", false
	}
	token, err := s.authenticate(request)
	if err != nil {
		s.fail(writer, operation, err)
		return "", false
	}
	if err := s.sessions.CheckActive(token); err != nil {
		s.fail(writer, operation, err)
		return "", false
	}
	return token, true
}

func (s *Server) parseConfirmWindow(body string) (time.Duration, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return s.confirmDefaultTimeout, nil
	}
	seconds, err := strconv.Atoi(trimmed)
	if err != nil || seconds < 1 {
		return 0, cerrors.New(cerrors.KindParse, "confirm timeout is not a positive number of seconds")
	}
	return time.Duration(seconds) * time.Second, nil
}
