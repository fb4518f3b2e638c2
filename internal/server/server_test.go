package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fedipost/internal/database"
	"fedipost/internal/model"
	"fedipost/internal/pipeline"
	"fedipost/internal/render"
	"fedipost/internal/server"
	"fedipost/internal/testutil"
)

func newTestServer(t *testing.T) (*server.Server, *database.SQLiteStore, *testutil.RecordingQueue) {
	t.Helper()
	store := testutil.NewTestSQLiteStore(t)
	queue := testutil.NewRecordingQueue()
	svc := pipeline.NewService(
		store,
		render.NewMarkdownRenderer(),
		render.NewTagSanitizer(),
		queue,
		&testutil.RecordingEditFederator{},
		testutil.NewFakeRemoteFetcher(),
		&testutil.FakeAltThreadFetcher{},
		pipeline.NewNopLogger(),
		testutil.FixedClock(),
		testutil.NewStubIDGenerator(),
		pipeline.Options{ProfileURLBase: "https://social.example.org"},
	)
	srv := server.New(svc, store, pipeline.NewNopLogger(), "127.0.0.1:0")
	return srv, store, queue
}

func doJSON(t *testing.T, srv *server.Server, method, target, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreatePostHandler(t *testing.T) {
	t.Run("publishes and returns the post", func(t *testing.T) {
		srv, store, _ := newTestServer(t)
		testutil.SeedUser(t, store, &model.User{ID: "u1", Handle: "poster"})
		testutil.SeedUser(t, store, &model.User{ID: "u2", Handle: "alice"})

		rec := doJSON(t, srv, http.MethodPost, "/api/v3/createPost", "u1",
			`{"content": "hello @alice", "privacy": 0}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.ID == "" {
			t.Error("response post has no id")
		}
		if !strings.Contains(resp.Content, "u-url mention") {
			t.Errorf("content not transformed: %q", resp.Content)
		}
	})

	t.Run("missing identity is unauthorized", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		rec := doJSON(t, srv, http.MethodPost, "/api/v3/createPost", "", `{"content": "x"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("missing parent maps to the default failure shape", func(t *testing.T) {
		srv, store, _ := newTestServer(t)
		testutil.SeedUser(t, store, &model.User{ID: "u1", Handle: "poster"})

		rec := doJSON(t, srv, http.MethodPost, "/api/v3/createPost", "u1",
			`{"content": "reply", "parent": "ghost"}`)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
		var resp struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.Success || resp.Message != "non existent parent" {
			t.Errorf("failure shape = %+v", resp)
		}
	})

	t.Run("blocked reply is forbidden", func(t *testing.T) {
		srv, store, _ := newTestServer(t)
		testutil.SeedUser(t, store, &model.User{ID: "u1", Handle: "poster"})
		testutil.SeedUser(t, store, &model.User{ID: "u2", Handle: "bob"})
		testutil.SeedBlock(t, store, "u2", "u1")

		parentRec := doJSON(t, srv, http.MethodPost, "/api/v3/createPost", "u2",
			`{"content": "original"}`)
		var parent struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(parentRec.Body.Bytes(), &parent); err != nil {
			t.Fatalf("decoding parent: %v", err)
		}

		rec := doJSON(t, srv, http.MethodPost, "/api/v3/createPost", "u1",
			`{"content": "reply", "parent": "`+parent.ID+`"}`)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})
}

func TestGetPostHandler(t *testing.T) {
	srv, store, _ := newTestServer(t)
	testutil.SeedUser(t, store, &model.User{ID: "u1", Handle: "poster"})
	testutil.SeedUser(t, store, &model.User{ID: "u2", Handle: "alice"})
	testutil.SeedUser(t, store, &model.User{ID: "u3", Handle: "stranger"})

	rec := doJSON(t, srv, http.MethodPost, "/api/v3/createPost", "u1",
		`{"content": "hi @alice"}`)
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding created post: %v", err)
	}

	t.Run("returns the post with its mentions", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v2/post/"+created.ID, "u3", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp struct {
			ID               string   `json:"id"`
			MentionedUserIDs []string `json:"mentionedUserIds"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.ID != created.ID {
			t.Errorf("id = %q, want %q", resp.ID, created.ID)
		}
		if len(resp.MentionedUserIDs) != 1 || resp.MentionedUserIDs[0] != "u2" {
			t.Errorf("mentions = %v, want [u2]", resp.MentionedUserIDs)
		}
	})

	t.Run("unknown post is 404", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v2/post/ghost", "u1", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("suppressed post hidden from strangers", func(t *testing.T) {
		if _, err := store.DB().Exec(
			"UPDATE posts SET privacy = ? WHERE id = ?", int(model.PrivacySuppressed), created.ID); err != nil {
			t.Fatalf("suppressing post: %v", err)
		}

		if rec := doJSON(t, srv, http.MethodGet, "/api/v2/post/"+created.ID, "u3", ""); rec.Code != http.StatusForbidden {
			t.Errorf("stranger status = %d, want 403", rec.Code)
		}
		if rec := doJSON(t, srv, http.MethodGet, "/api/v2/post/"+created.ID, "u1", ""); rec.Code != http.StatusOK {
			t.Errorf("author status = %d, want 200", rec.Code)
		}
		if rec := doJSON(t, srv, http.MethodGet, "/api/v2/post/"+created.ID, "u2", ""); rec.Code != http.StatusOK {
			t.Errorf("mentioned status = %d, want 200", rec.Code)
		}
	})
}

func TestLoadRemoteResponsesHandler(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Unknown ids still acknowledge with an empty object.
	rec := doJSON(t, srv, http.MethodGet, "/api/loadRemoteResponses?id=ghost", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "{}" {
		t.Errorf("body = %q, want {}", got)
	}
}
