// Package testutil provides an in-process fake of the bot service for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

const tokenHeader = "X-MSTR-AuthToken"

// Behavior scripts how the fake answers one question.
type Behavior struct {
	PendingPolls int            // 202 responses before the answer is ready
	AckPolls     int            // 200 responses without answer text after the pending ones
	Never        bool           // keep answering 202 forever
	PollStatus   int            // return this status on every poll when non-zero
	SubmitStatus int            // fail every submit of this question with this status when non-zero
	Payload      map[string]any // answer payload; defaults to an echo of the question
}

type question struct {
	text  string
	polls int
}

// FakeBot is an httptest server speaking the login/submit/poll protocol.
type FakeBot struct {
	Server *httptest.Server

	Logins  atomic.Int32
	Submits atomic.Int32
	Polls   atomic.Int32

	// Behave picks the behavior for a question; nil answers everything on
	// the first poll.
	Behave func(question string) Behavior

	mu           sync.Mutex
	tokens       map[string]bool
	tokenSeq     int
	rejectLogin  bool
	expireSubmit int
	expirePoll   int
	questions    map[string]*question
	seq          int
}

// NewFakeBot starts a fake bot service. It is closed with the test.
func NewFakeBot(t *testing.T) *FakeBot {
	t.Helper()
	fb := &FakeBot{questions: make(map[string]*question), tokens: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", fb.login)
	mux.HandleFunc("POST /api/questions", fb.submit)
	mux.HandleFunc("GET /api/questions/{id}", fb.poll)
	fb.Server = httptest.NewServer(mux)
	t.Cleanup(fb.Server.Close)
	return fb
}

// URL is the base URL of the fake.
func (fb *FakeBot) URL() string { return fb.Server.URL }

// RejectLogins makes every login fail with 401.
func (fb *FakeBot) RejectLogins(reject bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.rejectLogin = reject
}

// ExpireOnNextSubmit invalidates every issued token before the next submit,
// so it sees 401 until a new login happens.
func (fb *FakeBot) ExpireOnNextSubmit() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.expireSubmit++
}

// ExpireOnNextPoll invalidates every issued token before the next poll.
func (fb *FakeBot) ExpireOnNextPoll() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.expirePoll++
}

func (fb *FakeBot) behavior(q string) Behavior {
	if fb.Behave == nil {
		return Behavior{}
	}
	return fb.Behave(q)
}

func (fb *FakeBot) authorized(r *http.Request, expire *int) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if *expire > 0 {
		*expire--
		clear(fb.tokens)
	}
	return fb.tokens[r.Header.Get(tokenHeader)]
}

func (fb *FakeBot) login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.rejectLogin || creds.Username == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	fb.Logins.Add(1)
	fb.tokenSeq++
	token := fmt.Sprintf("tok-%d", fb.tokenSeq)
	fb.tokens[token] = true
	w.Header().Set(tokenHeader, token)
	w.WriteHeader(http.StatusNoContent)
}

func (fb *FakeBot) submit(w http.ResponseWriter, r *http.Request) {
	fb.Submits.Add(1)
	if !fb.authorized(r, &fb.expireSubmit) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.Header.Get("Prefer") != "respond-async" || r.Header.Get("X-MSTR-ProjectID") == "" {
		http.Error(w, "missing headers", http.StatusBadRequest)
		return
	}

	var body struct {
		Text     string `json:"text"`
		TextOnly bool   `json:"textOnly"`
		Bots     []struct {
			ID        string `json:"id"`
			ProjectID string `json:"projectId"`
		} `json:"bots"`
		History []any `json:"history"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.TextOnly || len(body.Bots) != 1 || body.History == nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	if status := fb.behavior(body.Text).SubmitStatus; status != 0 {
		http.Error(w, "submit rejected", status)
		return
	}

	fb.mu.Lock()
	fb.seq++
	id := fmt.Sprintf("q-%d", fb.seq)
	fb.questions[id] = &question{text: body.Text}
	fb.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (fb *FakeBot) poll(w http.ResponseWriter, r *http.Request) {
	fb.Polls.Add(1)
	if !fb.authorized(r, &fb.expirePoll) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	fb.mu.Lock()
	q, ok := fb.questions[r.PathValue("id")]
	var polls int
	if ok {
		q.polls++
		polls = q.polls
	}
	fb.mu.Unlock()
	if !ok {
		http.Error(w, "unknown question", http.StatusNotFound)
		return
	}

	b := fb.behavior(q.text)
	switch {
	case b.PollStatus != 0:
		http.Error(w, "poll rejected", b.PollStatus)
		return
	case b.Never || polls <= b.PendingPolls:
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if polls <= b.PendingPolls+b.AckPolls {
		json.NewEncoder(w).Encode(map[string]any{"id": r.PathValue("id"), "answers": []any{}})
		return
	}

	payload := b.Payload
	if payload == nil {
		payload = EchoPayload(q.text)
	}
	json.NewEncoder(w).Encode(payload)
}

// EchoPayload is the default answer: the question echoed back with a simple query.
func EchoPayload(q string) map[string]any {
	return map[string]any{
		"answers": []any{
			map[string]any{
				"text":       "answer: " + q,
				"sqlQueries": []any{"SELECT * FROM wines WHERE q = '" + strings.ReplaceAll(q, "'", "''") + "'"},
				"queries":    []any{map[string]any{"explanation": "lookup " + q}},
				"insights":   []any{"insight for " + q},
			},
		},
	}
}
