package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatcore/internal/auth"
	"chatcore/internal/dispatch"
	"chatcore/internal/messaging"
	"chatcore/internal/room"
	"chatcore/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemStore()
	authSvc, err := auth.NewService(st)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	hub := dispatch.NewHub()
	return New(st, authSvc, room.NewService(st), messaging.NewService(st, hub))
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	api := newTestServer(t)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRegisterLoginAndCreateRoom(t *testing.T) {
	api := newTestServer(t)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()
	client := ts.Client()

	resp := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/auth/register", "", registerRequest{
		Username: "alice", Password: "alice-password",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from register, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/auth/login", "", loginRequest{
		Identifier: "alice", Password: "alice-password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d", resp.StatusCode)
	}
	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	resp.Body.Close()
	if login.SessionToken == "" {
		t.Fatalf("expected a session token")
	}

	resp = doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/rooms", login.SessionToken, createRoomRequest{Name: "watercooler"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from create room, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/rooms", login.SessionToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from list rooms, got %d", resp.StatusCode)
	}
	var rooms []roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("decode rooms: %v", err)
	}
	resp.Body.Close()
	found := false
	for _, r := range rooms {
		if r.Name == "watercooler" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected watercooler in room list, got %+v", rooms)
	}
}

func TestMessagesRequireAuth(t *testing.T) {
	api := newTestServer(t)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/api/v1/messages?target=room:general", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", resp.StatusCode)
	}
}

func TestPostAndFetchRoomMessages(t *testing.T) {
	api := newTestServer(t)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()
	client := ts.Client()

	doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/auth/register", "", registerRequest{Username: "bob", Password: "bob-password"}).Body.Close()
	resp := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/auth/login", "", loginRequest{Identifier: "bob", Password: "bob-password"})
	var login loginResponse
	json.NewDecoder(resp.Body).Decode(&login)
	resp.Body.Close()

	doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/rooms/general/join", login.SessionToken, nil).Body.Close()

	resp = doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/messages", login.SessionToken, map[string]any{
		"target": map[string]string{"kind": "room", "name": "general"},
		"body":   "hello from rest",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from post message, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/messages?target=room:general&limit=10", login.SessionToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from get messages, got %d", resp.StatusCode)
	}
	var page historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	resp.Body.Close()
	if len(page.Messages) != 1 || page.Messages[0].Body != "hello from rest" {
		t.Fatalf("unexpected history payload: %+v", page)
	}
}
