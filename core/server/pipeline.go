package server

import (
	"context"
	"net/http"
	"time"

	cerrors "github.com/birdrest/birdrest/core/errors"
	"github.com/birdrest/birdrest/core/render"
)

// updateCandidate runs the mutation pipeline: lazy-clone, patch, schema
// validation, render, target persist, external validation. Failures after
// the patch discard the candidate; failures at the persist or external
// stage additionally restore the on-disk target to the running rendering.
func (s *Server) updateCandidate(request *http.Request, token string, patch []byte) error {
	s.sessions.CancelOnce(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.candidate == nil {
		s.candidate = s.running.Clone()
		s.logger.Debug("created candidate config", "token", token)
	}

	if err := s.candidate.ApplyPatch(patch); err != nil {
		// The candidate document is unchanged on a failed patch; keep it so
		// earlier successful updates within the session survive.
		return err
	}

	candidateData, err := s.candidate.Serialize()
	if err != nil {
		s.candidate = nil
		return err
	}
	if err := s.schema.Validate(candidateData); err != nil {
		s.candidate = nil
		return err
	}
	rendered, err := render.Render(s.candidate.Document())
	if err != nil {
		s.candidate = nil
		return err
	}

	if s.targetStore != nil {
		if err := s.targetStore.Save(rendered); err != nil {
			s.candidate = nil
			s.restoreTargetLocked()
			return err
		}
	}
	if s.exec != nil {
		if err := s.runExternal(request.Context(), s.exec.Validate); err != nil {
			s.candidate = nil
			s.restoreTargetLocked()
			return err
		}
	}

	// An idle candidate is discarded after the one-shot delay.
	if err := s.sessions.ArmOnce(token, s.idleCandidateTimeout, s.onIdleCandidate); err != nil {
		s.logger.Error("arm idle-candidate timer", "token", token, "error", err)
	}
	return nil
}

// commitCandidate promotes the candidate: the external daemon loads the
// already-persisted target, then the candidate becomes the running document.
func (s *Server) commitCandidate(request *http.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.candidate == nil {
		return cerrors.New(cerrors.KindInternal, "there is no candidate config to commit")
	}
	candidateData, err := s.candidate.Serialize()
	if err != nil {
		return err
	}
	if s.exec != nil {
		if err := s.runExternal(request.Context(), s.exec.Load); err != nil {
			return err
		}
	}
	if err := s.promoteLocked(candidateData); err != nil {
		return err
	}
	s.candidate = nil
	s.pendingConfirm = ""
	s.logger.Info("committed candidate config", "fingerprint", s.running.Fingerprint())
	return nil
}

// commitCandidateWithTimeout reconfigures the external daemon immediately
// but defers promotion until an explicit confirm. Without one, the window
// timer performs the cancel path and cleans up the owning session.
func (s *Server) commitCandidateWithTimeout(request *http.Request, token string, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.candidate == nil {
		return cerrors.New(cerrors.KindInternal, "there is no candidate config to commit")
	}
	if s.exec != nil {
		if err := s.runExternal(request.Context(), s.exec.Load); err != nil {
			return err
		}
	}

	s.sessions.CancelOnce(token)
	if err := s.sessions.ArmOnce(token, window, s.onConfirmWindowElapsed); err != nil {
		// Without the window timer the two-phase commit cannot be left
		// open; bring the daemon back to the running state.
		s.restoreTargetLocked()
		if s.exec != nil {
			if rollbackErr := s.runExternal(request.Context(), s.exec.Rollback); rollbackErr != nil {
				s.logger.Error("rollback after failed confirm-window arm", "error", rollbackErr)
			}
		}
		return err
	}
	s.pendingConfirm = token
	s.logger.Info("committed candidate config pending confirm", "token", token, "window", window)
	return nil
}

// confirmCommit finishes a two-phase commit: the daemon already runs the
// candidate, so only the promotion to running is left.
func (s *Server) confirmCommit(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPendingOwnerLocked(token); err != nil {
		return err
	}
	s.sessions.CancelOnce(token)

	if s.candidate == nil {
		s.pendingConfirm = ""
		return cerrors.New(cerrors.KindInternal, "pending confirm without a candidate config")
	}
	candidateData, err := s.candidate.Serialize()
	if err != nil {
		return err
	}
	if err := s.promoteLocked(candidateData); err != nil {
		return err
	}
	s.candidate = nil
	s.pendingConfirm = ""
	s.logger.Info("confirmed committed config", "token", token, "fingerprint", s.running.Fingerprint())
	return nil
}

// cancelCommit undoes a pending two-phase commit: the target file is
// restored from the running document and the daemon rolls back. The
// candidate is retained so the session can amend and retry.
func (s *Server) cancelCommit(request *http.Request, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPendingOwnerLocked(token); err != nil {
		return err
	}
	s.sessions.CancelOnce(token)

	s.restoreTargetLocked()
	if s.exec != nil {
		if err := s.runExternal(request.Context(), s.exec.Rollback); err != nil {
			return err
		}
	}
	s.pendingConfirm = ""
	s.logger.Info("cancelled committed config", "token", token)
	return nil
}

func (s *Server) checkPendingOwnerLocked(token string) error {
	if s.pendingConfirm == "" {
		return cerrors.NewCode(cerrors.KindSession, cerrors.CodeNotOwner, "there is no commit pending confirmation")
	}
	if s.pendingConfirm != token {
		return cerrors.NewCode(cerrors.KindSession, cerrors.CodeNotOwner, "the pending commit is owned by another session")
	}
	return nil
}

// promoteLocked persists data as the running document and reloads it.
func (s *Server) promoteLocked(data []byte) error {
	if err := s.runningStore.Save(data); err != nil {
		return err
	}
	if err := s.running.Load(); err != nil {
		return err
	}
	return nil
}

// dropCandidateLocked discards the candidate and brings the external view
// back to the running document: the target file is re-rendered, and the
// daemon either rolls back (a confirm window was open, so it had been
// reconfigured) or re-loads the restored file.
func (s *Server) dropCandidateLocked(ctx context.Context, token string) error {
	if s.candidate == nil {
		return nil
	}
	s.restoreTargetLocked()

	var externalErr error
	if s.exec != nil {
		if s.pendingConfirm != "" {
			externalErr = s.runExternal(ctx, s.exec.Rollback)
		} else {
			externalErr = s.runExternal(ctx, s.exec.Load)
		}
	}
	s.candidate = nil
	s.pendingConfirm = ""
	s.logger.Info("discarded candidate config", "token", token)
	return externalErr
}

// restoreTargetLocked rewrites the target file from the running document so
// the daemon's on-disk view matches the last known good configuration.
func (s *Server) restoreTargetLocked() {
	if s.targetStore == nil {
		return
	}
	rendered, err := render.Render(s.running.Document())
	if err != nil {
		s.logger.Error("render running config for target restore", "error", err)
		return
	}
	if err := s.targetStore.Save(rendered); err != nil {
		s.logger.Error("restore target file", "uri", s.targetStore.URI(), "error", err)
	}
}

// runExternal serialises configure invocations against the daemon.
func (s *Server) runExternal(ctx context.Context, call func(context.Context) error) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	return call(ctx)
}

// onIdleCandidate fires when a session updated the candidate and then went
// quiet. The candidate is discarded but the session stays registered and
// active; it can start over with a fresh update.
func (s *Server) onIdleCandidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidate == nil {
		return
	}
	s.logger.Info("discarding idle candidate config", "token", token)
	if err := s.dropCandidateLocked(context.Background(), token); err != nil {
		s.logger.Error("discard idle candidate", "token", token, "error", err)
	}
}

// onConfirmWindowElapsed fires when a commit-timeout window passed without
// a confirm: the cancel path runs, then the owning session is cleaned up.
func (s *Server) onConfirmWindowElapsed(token string) {
	s.mu.Lock()
	if s.pendingConfirm != token {
		s.mu.Unlock()
		return
	}
	s.logger.Info("confirm window elapsed, rolling back", "token", token)
	s.restoreTargetLocked()
	if s.exec != nil {
		if err := s.runExternal(context.Background(), s.exec.Rollback); err != nil {
			s.logger.Error("rollback after elapsed confirm window", "token", token, "error", err)
		}
	}
	s.pendingConfirm = ""
	s.candidate = nil
	s.mu.Unlock()

	s.sessions.Remove(token)
}

// onSessionExpired runs on the reaper for every token dropped by the
// inactivity timeout. If the expired session was active, its candidate and
// any pending confirm are discarded.
func (s *Server) onSessionExpired(token string) {
	if s.sessions.Active() != token {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dropCandidateLocked(context.Background(), token); err != nil {
		s.logger.Error("discard candidate of expired session", "token", token, "error", err)
	}
}
