// Package server dispatches the HTTP API and drives the configuration
// pipeline: patch, validate, render, persist, and the external daemon's
// validate/load/rollback cycle.
package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/birdrest/birdrest/core/config"
	"github.com/birdrest/birdrest/core/errlog"
	cerrors "github.com/birdrest/birdrest/core/errors"
	"github.com/birdrest/birdrest/core/executor"
	"github.com/birdrest/birdrest/core/schema"
	"github.com/birdrest/birdrest/core/session"
	"github.com/birdrest/birdrest/core/store"
)

// HTTP status codes specific to the session contract.
const (
	StatusInvalidToken  = 498
	StatusTokenRequired = 499
)

const expirationCallbackID = "dispatcher"

type Options struct {
	Sessions     *session.Coordinator
	Running      *config.Manager
	Schema       *schema.Validator
	RunningStore store.Store
	// TargetStore and Executor are optional together: without them the
	// pipeline stops after rendering.
	TargetStore store.Store
	Executor    executor.Executor
	ErrLog      *errlog.Ring
	Logger      *slog.Logger

	IdleCandidateTimeout  time.Duration
	ConfirmDefaultTimeout time.Duration
}

// Server holds the candidate and pending-confirm singletons. One mutex
// serialises every candidate-touching pipeline; a second serialises calls
// into the external daemon.
type Server struct {
	sessions     *session.Coordinator
	running      *config.Manager
	schema       *schema.Validator
	runningStore store.Store
	targetStore  store.Store
	exec         executor.Executor
	errLog       *errlog.Ring
	logger       *slog.Logger

	idleCandidateTimeout  time.Duration
	confirmDefaultTimeout time.Duration

	mu             sync.Mutex
	candidate      *config.Manager
	pendingConfirm string

	execMu sync.Mutex
}

func New(options Options) *Server {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idleTimeout := options.IdleCandidateTimeout
	if idleTimeout <= 0 {
		idleTimeout = 180 * time.Second
	}
	confirmTimeout := options.ConfirmDefaultTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 60 * time.Second
	}
	errLog := options.ErrLog
	if errLog == nil {
		errLog = errlog.NewRing(errlog.DefaultCapacity)
	}
	// Error-level records from the dispatcher feed the readable error log.
	logger = slog.New(errlog.NewCaptureHandler(logger.Handler(), errLog))

	s := &Server{
		sessions:              options.Sessions,
		running:               options.Running,
		schema:                options.Schema,
		runningStore:          options.RunningStore,
		targetStore:           options.TargetStore,
		exec:                  options.Executor,
		errLog:                errLog,
		logger:                logger,
		idleCandidateTimeout:  idleTimeout,
		confirmDefaultTimeout: confirmTimeout,
	}
	// Expired sessions must never leave a candidate behind.
	s.sessions.OnExpiration(expirationCallbackID, s.onSessionExpired)
	return s
}

// Handler returns the HTTP surface of the dispatcher.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/token", s.handleSessionToken)
	mux.HandleFunc("/config/running", s.handleRunning)
	mux.HandleFunc("/config/running/diff", s.handleRunningDiff)
	mux.HandleFunc("/config/running/update", s.handleRunningUpdate)
	mux.HandleFunc("/config/candidate", s.handleCandidate)
	mux.HandleFunc("/config/candidate/commit", s.handleCommit)
	mux.HandleFunc("/config/candidate/commit-timeout", s.handleCommitTimeout)
	mux.HandleFunc("/config/candidate/commit-confirm", s.handleCommitConfirm)
	mux.HandleFunc("/config/candidate/commit-cancel", s.handleCommitCancel)
	mux.HandleFunc("/logs/latest/", s.handleLogs)
	return mux
}

// ErrLog exposes the ring for the logs endpoint and tests.
func (s *Server) ErrLog() *errlog.Ring {
	return s.errLog
}

// bearerToken extracts the session token from the Authorization header.
func bearerToken(request *http.Request) (string, error) {
	authorization := strings.TrimSpace(request.Header.Get("Authorization"))
	if authorization == "" {
		return "", cerrors.NewCode(cerrors.KindSession, cerrors.CodeTokenMissing, "authorization header is required")
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", cerrors.NewCode(cerrors.KindSession, cerrors.CodeTokenMissing, "authorization header is not a bearer token")
	}
	return strings.TrimSpace(parts[1]), nil
}

// authenticate resolves and refreshes the caller's session token.
func (s *Server) authenticate(request *http.Request) (string, error) {
	token, err := bearerToken(request)
	if err != nil {
		return "", err
	}
	if err := s.sessions.Check(token); err != nil {
		return "", err
	}
	return token, nil
}

func statusFor(err error) int {
	if cerrors.KindOf(err) != cerrors.KindSession {
		return http.StatusInternalServerError
	}
	switch cerrors.CodeOf(err) {
	case cerrors.CodeTokenMissing:
		return StatusTokenRequired
	case cerrors.CodeTokenInvalid, cerrors.CodeNotActive:
		return StatusInvalidToken
	case cerrors.CodeTokenDuplicate, cerrors.CodeConflict, cerrors.CodeNotOwner:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail reports a handler failure: the error-level record is picked up by
// the errlog capture handler, so clients can read it back later.
func (s *Server) fail(writer http.ResponseWriter, operation string, err error) {
	s.logger.Error(operation, "error", err)
	writePlain(writer, statusFor(err), "Failed")
}

func writePlain(writer http.ResponseWriter, status int, body string) {
	writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	writer.WriteHeader(status)
	_, _ = io.WriteString(writer, body)
}

func readBody(request *http.Request) ([]byte, error) {
	body, err := io.ReadAll(request.Body)
	if err != nil {
		return nil, cerrors.Wrap(fmt.Errorf("read request body: %w", err), cerrors.KindIO)
	}
	return body, nil
}
