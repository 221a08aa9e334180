package e2e

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/birdrest/birdrest/core/server"
	"github.com/birdrest/birdrest/internal/testutil"
)

func startAPI(t *testing.T, options testutil.FixtureOptions) (*testutil.Fixture, *httptest.Server) {
	t.Helper()
	fixture := testutil.NewFixture(t, options)
	api := httptest.NewServer(fixture.Server.Handler())
	t.Cleanup(api.Close)
	return fixture, api
}

func call(t *testing.T, api *httptest.Server, method, path, token, body string) (int, string) {
	t.Helper()
	request, err := http.NewRequest(method, api.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := api.Client().Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return response.StatusCode, string(payload)
}

func registerToken(t *testing.T, api *httptest.Server, token string) {
	t.Helper()
	status, _ := call(t, api, http.MethodPost, "/session/token", "", token)
	if status != http.StatusCreated {
		t.Fatalf("register token %s: status %d", token, status)
	}
}

const addStaticPatch = `[{"op":"add","path":"/static","value":{"ipv4":[{"prefix":"10.1.0.0/16","via":"192.0.2.254"}]}}]`

// Scenario: fresh session update-commit cycle.
func TestUpdateCommitCycle(t *testing.T) {
	fixture, api := startAPI(t, testutil.FixtureOptions{})
	registerToken(t, api, "tok1")

	status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok1", addStaticPatch)
	if status != http.StatusOK {
		t.Fatalf("update: status %d", status)
	}
	if validateCalls, _, _ := fixture.Exec.Counts(); validateCalls != 1 {
		t.Fatalf("expected one external validation, got %d", validateCalls)
	}

	status, candidateBody := call(t, api, http.MethodGet, "/config/candidate", "tok1", "")
	if status != http.StatusOK {
		t.Fatalf("get candidate: status %d", status)
	}
	if !strings.Contains(candidateBody, `"static"`) {
		t.Fatalf("candidate does not carry the patch: %s", candidateBody)
	}

	status, _ = call(t, api, http.MethodPost, "/config/candidate/commit", "tok1", "")
	if status != http.StatusOK {
		t.Fatalf("commit: status %d", status)
	}
	if _, loadCalls, _ := fixture.Exec.Counts(); loadCalls != 1 {
		t.Fatalf("expected one external load, got %d", loadCalls)
	}

	status, runningBody := call(t, api, http.MethodGet, "/config/running", "tok1", "")
	if status != http.StatusOK {
		t.Fatalf("get running: status %d", status)
	}
	if !strings.Contains(runningBody, `"10.1.0.0/16"`) {
		t.Fatalf("running config does not carry the committed patch: %s", runningBody)
	}

	// The candidate is gone after commit.
	status, _ = call(t, api, http.MethodGet, "/config/candidate", "tok1", "")
	if status != http.StatusInternalServerError {
		t.Fatalf("get candidate after commit: status %d", status)
	}
	// The on-disk target equals the running rendering.
	if fixture.TargetFile(t) != fixture.RunningRendering(t) {
		t.Fatal("target file does not match the running rendering after commit")
	}
}

// Scenario: a second session conflicts while the first is active.
func TestConflictingActiveSessions(t *testing.T) {
	_, api := startAPI(t, testutil.FixtureOptions{})
	registerToken(t, api, "tok1")
	registerToken(t, api, "tok2")

	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok1", addStaticPatch); status != http.StatusOK {
		t.Fatalf("first update: status %d", status)
	}
	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok2", addStaticPatch); status != http.StatusConflict {
		t.Fatalf("second update: status %d, want 409", status)
	}
}

// Scenario: an idle candidate is discarded by the one-shot timer and the
// target file is restored to the running rendering.
func TestIdleCandidateIsDiscarded(t *testing.T) {
	fixture, api := startAPI(t, testutil.FixtureOptions{
		IdleCandidateTimeout: 50 * time.Millisecond,
		ReaperInterval:       20 * time.Millisecond,
	})
	registerToken(t, api, "tok1")

	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok1", addStaticPatch); status != http.StatusOK {
		t.Fatalf("update: status %d", status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, _ := call(t, api, http.MethodGet, "/config/candidate", "tok1", "")
		if status == http.StatusInternalServerError {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	status, _ := call(t, api, http.MethodGet, "/config/candidate", "tok1", "")
	if status != http.StatusInternalServerError {
		t.Fatalf("candidate still present after idle timeout: status %d", status)
	}
	if fixture.TargetFile(t) != fixture.RunningRendering(t) {
		t.Fatal("target file not restored after idle discard")
	}
}

// Scenario: commit-with-timeout without a confirm rolls back exactly once.
func TestCommitTimeoutWithoutConfirmRollsBack(t *testing.T) {
	fixture, api := startAPI(t, testutil.FixtureOptions{
		ConfirmDefaultTimeout: 80 * time.Millisecond,
		ReaperInterval:        20 * time.Millisecond,
	})
	registerToken(t, api, "tok1")

	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok1", addStaticPatch); status != http.StatusOK {
		t.Fatalf("update: status %d", status)
	}
	if status, _ := call(t, api, http.MethodPost, "/config/candidate/commit-timeout", "tok1", ""); status != http.StatusOK {
		t.Fatalf("commit-timeout: status %d", status)
	}
	if _, loadCalls, _ := fixture.Exec.Counts(); loadCalls != 1 {
		t.Fatalf("expected one external load, got %d", loadCalls)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, rollbackCalls := fixture.Exec.Counts(); rollbackCalls > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	_, _, rollbackCalls := fixture.Exec.Counts()
	if rollbackCalls != 1 {
		t.Fatalf("expected exactly one rollback, got %d", rollbackCalls)
	}
	if fixture.TargetFile(t) != fixture.RunningRendering(t) {
		t.Fatal("target file not restored after elapsed confirm window")
	}
	// Owner cleanup: the session token is gone.
	if fixture.Sessions.Registered("tok1") {
		t.Fatal("owning token survived the elapsed confirm window")
	}
	// The running document is unchanged.
	if strings.Contains(string(mustSerialize(t, fixture)), "10.1.0.0/16") {
		t.Fatal("running config took the unconfirmed commit")
	}
}

func mustSerialize(t *testing.T, fixture *testutil.Fixture) []byte {
	t.Helper()
	data, err := fixture.Running.Serialize()
	if err != nil {
		t.Fatalf("serialize running: %v", err)
	}
	return data
}

// Scenario: commit-timeout followed by an explicit confirm promotes the
// candidate and disarms the rollback.
func TestCommitTimeoutConfirm(t *testing.T) {
	fixture, api := startAPI(t, testutil.FixtureOptions{
		ConfirmDefaultTimeout: 80 * time.Millisecond,
		ReaperInterval:        20 * time.Millisecond,
	})
	registerToken(t, api, "tok1")

	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok1", addStaticPatch); status != http.StatusOK {
		t.Fatalf("update: status %d", status)
	}
	if status, _ := call(t, api, http.MethodPost, "/config/candidate/commit-timeout", "tok1", ""); status != http.StatusOK {
		t.Fatalf("commit-timeout: status %d", status)
	}
	if status, _ := call(t, api, http.MethodPost, "/config/candidate/commit-confirm", "tok1", ""); status != http.StatusOK {
		t.Fatalf("commit-confirm: status %d", status)
	}

	if !strings.Contains(string(mustSerialize(t, fixture)), "10.1.0.0/16") {
		t.Fatal("running config did not take the confirmed commit")
	}
	// No rollback fires after the confirm.
	time.Sleep(200 * time.Millisecond)
	if _, _, rollbackCalls := fixture.Exec.Counts(); rollbackCalls != 0 {
		t.Fatalf("unexpected rollback after confirm: %d", rollbackCalls)
	}
	if fixture.TargetFile(t) != fixture.RunningRendering(t) {
		t.Fatal("target file does not match running after confirm")
	}
}

// Scenario: commit-cancel restores the target, rolls back the daemon, and
// keeps the candidate.
func TestCommitTimeoutCancel(t *testing.T) {
	fixture, api := startAPI(t, testutil.FixtureOptions{
		ConfirmDefaultTimeout: time.Minute,
	})
	registerToken(t, api, "tok1")

	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok1", addStaticPatch); status != http.StatusOK {
		t.Fatalf("update: status %d", status)
	}
	if status, _ := call(t, api, http.MethodPost, "/config/candidate/commit-timeout", "tok1", ""); status != http.StatusOK {
		t.Fatalf("commit-timeout: status %d", status)
	}
	if status, _ := call(t, api, http.MethodPost, "/config/candidate/commit-cancel", "tok1", ""); status != http.StatusOK {
		t.Fatalf("commit-cancel: status %d", status)
	}

	if _, _, rollbackCalls := fixture.Exec.Counts(); rollbackCalls != 1 {
		t.Fatalf("expected one rollback, got %d", rollbackCalls)
	}
	if fixture.TargetFile(t) != fixture.RunningRendering(t) {
		t.Fatal("target file not restored after cancel")
	}
	// The candidate is retained after a cancel.
	if status, _ := call(t, api, http.MethodGet, "/config/candidate", "tok1", ""); status != http.StatusOK {
		t.Fatalf("candidate gone after cancel: status %d", status)
	}
}

// A session that does not own the pending confirm cannot cancel it, and the
// pending confirm survives for the owner to confirm.
func TestPendingConfirmOwnership(t *testing.T) {
	fixture, api := startAPI(t, testutil.FixtureOptions{
		ConfirmDefaultTimeout: time.Minute,
	})
	registerToken(t, api, "tok1")
	registerToken(t, api, "tok2")

	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok1", addStaticPatch); status != http.StatusOK {
		t.Fatalf("update: status %d", status)
	}
	if status, _ := call(t, api, http.MethodPost, "/config/candidate/commit-timeout", "tok1", ""); status != http.StatusOK {
		t.Fatalf("commit-timeout: status %d", status)
	}

	// tok2 is not even the active session.
	if status, _ := call(t, api, http.MethodPost, "/config/candidate/commit-cancel", "tok2", ""); status != server.StatusInvalidToken {
		t.Fatalf("non-active cancel: status %d, want %d", status, server.StatusInvalidToken)
	}

	// The owner can still confirm afterwards.
	if status, _ := call(t, api, http.MethodPost, "/config/candidate/commit-confirm", "tok1", ""); status != http.StatusOK {
		t.Fatalf("owner confirm: status %d", status)
	}
	if !strings.Contains(string(mustSerialize(t, fixture)), "10.1.0.0/16") {
		t.Fatal("running config did not take the confirmed commit")
	}
}

// Scenario: a duplicate defined-list name is a render failure; the update
// reports 500 and the target file is untouched.
func TestDuplicateListNameRejected(t *testing.T) {
	fixture, api := startAPI(t, testutil.FixtureOptions{})
	registerToken(t, api, "tok1")
	before := fixture.TargetFile(t)

	patch := `[{"op":"add","path":"/bgp/community-lists","value":{"MY_LIST":"65000:100"}},` +
		`{"op":"add","path":"/bgp/as-path-lists","value":{"MY_LIST":["^65001"]}}]`
	status, body := call(t, api, http.MethodPatch, "/config/running/update", "tok1", patch)
	if status != http.StatusInternalServerError {
		t.Fatalf("update: status %d, want 500", status)
	}
	if body != "Failed" {
		t.Fatalf("unexpected failure body: %q", body)
	}
	if fixture.TargetFile(t) != before {
		t.Fatal("failed update altered the target file")
	}
}

// Scenario: prefix range validation end to end.
func TestPrefixRangeValidation(t *testing.T) {
	fixture, api := startAPI(t, testutil.FixtureOptions{})
	registerToken(t, api, "tok1")

	badPatch := `[{"op":"add","path":"/bgp/prefix-v4-lists","value":{"P":[{"prefix":"10.0.0.0/16","ge":8,"le":24}]}}]`
	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok1", badPatch); status != http.StatusInternalServerError {
		t.Fatalf("invalid range accepted: status %d", status)
	}

	goodPatch := `[{"op":"add","path":"/bgp/prefix-v4-lists","value":{"P":[{"prefix":"10.0.0.0/16","ge":20,"le":24}]}}]`
	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok1", goodPatch); status != http.StatusOK {
		t.Fatalf("valid range rejected: status %d", status)
	}
	if !strings.Contains(fixture.TargetFile(t), "10.0.0.0/16{20,24}") {
		t.Fatalf("target file missing expanded range:\n%s", fixture.TargetFile(t))
	}
}

func TestAuthCodes(t *testing.T) {
	_, api := startAPI(t, testutil.FixtureOptions{})

	if status, _ := call(t, api, http.MethodGet, "/config/running", "", ""); status != server.StatusTokenRequired {
		t.Fatalf("missing token: status %d, want %d", status, server.StatusTokenRequired)
	}
	if status, _ := call(t, api, http.MethodGet, "/config/running", "nope", ""); status != server.StatusInvalidToken {
		t.Fatalf("unknown token: status %d, want %d", status, server.StatusInvalidToken)
	}

	registerToken(t, api, "tok1")
	if status, _ := call(t, api, http.MethodPost, "/session/token", "", "tok1"); status != http.StatusConflict {
		t.Fatalf("duplicate token: status %d, want 409", status)
	}
	if status, _ := call(t, api, http.MethodGet, "/config/running", "tok1", ""); status != http.StatusOK {
		t.Fatalf("valid token: status %d", status)
	}
}

func TestSessionDeleteDiscardsCandidate(t *testing.T) {
	fixture, api := startAPI(t, testutil.FixtureOptions{})
	registerToken(t, api, "tok1")

	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok1", addStaticPatch); status != http.StatusOK {
		t.Fatalf("update: status %d", status)
	}
	if status, _ := call(t, api, http.MethodDelete, "/session/token", "tok1", ""); status != http.StatusOK {
		t.Fatalf("delete token: status %d", status)
	}
	if fixture.Sessions.Registered("tok1") {
		t.Fatal("token still registered")
	}
	if fixture.TargetFile(t) != fixture.RunningRendering(t) {
		t.Fatal("target file not restored after session delete")
	}

	// Another session may now become active.
	registerToken(t, api, "tok2")
	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok2", addStaticPatch); status != http.StatusOK {
		t.Fatalf("update by new session: status %d", status)
	}
}

func TestRunningDiffEndpoint(t *testing.T) {
	_, api := startAPI(t, testutil.FixtureOptions{})
	registerToken(t, api, "tok1")

	target := `{"router-id":"10.0.0.1","bgp":{"sessions":{"upstream":{"local":{"as":65000},"peer":{"address":"192.0.2.2","as":65001}}}},"static":{"ipv6":[]}}`
	status, body := call(t, api, http.MethodGet, "/config/running/diff", "tok1", target)
	if status != http.StatusOK {
		t.Fatalf("diff: status %d", status)
	}
	if !strings.Contains(body, `"op":"add"`) || !strings.Contains(body, `"/static"`) {
		t.Fatalf("unexpected diff payload: %s", body)
	}

	// A document that fails schema validation is rejected.
	if status, _ := call(t, api, http.MethodGet, "/config/running/diff", "tok1", `{"bogus":1}`); status != http.StatusInternalServerError {
		t.Fatalf("schema-invalid diff accepted: status %d", status)
	}
}

func TestErrorLogEndpoint(t *testing.T) {
	_, api := startAPI(t, testutil.FixtureOptions{})
	registerToken(t, api, "tok1")

	// Provoke a handler failure so the ring has content.
	if status, _ := call(t, api, http.MethodGet, "/config/candidate", "tok1", ""); status == http.StatusOK {
		t.Fatal("expected candidate read to fail")
	}

	status, body := call(t, api, http.MethodGet, "/logs/latest/5", "tok1", "")
	if status != http.StatusOK {
		t.Fatalf("read logs: status %d", status)
	}
	if !strings.Contains(body, "candidate") {
		t.Fatalf("log payload missing the failure: %q", body)
	}

	if status, _ := call(t, api, http.MethodGet, "/logs/latest/zero", "tok1", ""); status != http.StatusInternalServerError {
		t.Fatalf("bad log count accepted: status %d", status)
	}
}

// P4: after an arbitrary call sequence, at most one session is active and at
// most one candidate exists.
func TestSingleActiveSessionInvariant(t *testing.T) {
	fixture, api := startAPI(t, testutil.FixtureOptions{})
	for _, token := range []string{"a", "b", "c"} {
		registerToken(t, api, token)
	}
	for _, token := range []string{"a", "b", "c", "a", "b"} {
		call(t, api, http.MethodPatch, "/config/running/update", token, addStaticPatch)
		call(t, api, http.MethodGet, "/config/candidate", token, "")
	}
	if fixture.Sessions.Active() != "a" {
		t.Fatalf("unexpected active session: %q", fixture.Sessions.Active())
	}
}

// The candidate's first state is the running document at first mutation
// within the session: an update with an empty patch returns the clone.
func TestCandidateSeededFromRunning(t *testing.T) {
	fixture, api := startAPI(t, testutil.FixtureOptions{})
	registerToken(t, api, "tok1")

	if status, _ := call(t, api, http.MethodPatch, "/config/running/update", "tok1", `[]`); status != http.StatusOK {
		t.Fatalf("empty update: status %d", status)
	}
	status, candidateBody := call(t, api, http.MethodGet, "/config/candidate", "tok1", "")
	if status != http.StatusOK {
		t.Fatalf("get candidate: status %d", status)
	}
	if candidateBody != string(mustSerialize(t, fixture)) {
		t.Fatalf("candidate differs from running:\n%s\nvs\n%s", candidateBody, mustSerialize(t, fixture))
	}
}
