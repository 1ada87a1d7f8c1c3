package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
)

func TestListChannelsSendsBearerToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/channels" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("authorization header = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]proto.Channel{
			{ID: "c1", Name: "general", Kind: proto.ChannelRegular, MemberIDs: []string{"u1"}},
		})
	}))
	defer ts.Close()

	client := New(ts.URL, "tok-123")
	channels, err := client.ListChannels(context.Background())
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(channels) != 1 || channels[0].Name != "general" {
		t.Fatalf("unexpected channels: %+v", channels)
	}
}

func TestChannelMessagesPagination(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/channels/c1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("limit") != "25" || q.Get("skip") != "50" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]proto.Message{{ID: "m1", ChannelID: "c1", Text: "hello"}})
	}))
	defer ts.Close()

	client := New(ts.URL, "tok")
	msgs, err := client.ChannelMessages(context.Background(), "c1", 25, 50)
	if err != nil {
		t.Fatalf("ChannelMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestErrorBodyBecomesHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "channel administration is restricted"})
	}))
	defer ts.Close()

	client := New(ts.URL, "tok")
	err := client.DeleteChannel(context.Background(), "c1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsStatus(err, http.StatusForbidden) {
		t.Fatalf("IsStatus(403) = false for %v", err)
	}
	if IsStatus(err, http.StatusNotFound) {
		t.Fatal("IsStatus must not match other codes")
	}
}

func TestCreateChannelPostsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var req CreateChannelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.Name != "eng" || req.Kind != proto.ChannelRegular || len(req.MemberIDs) != 2 {
			t.Errorf("unexpected body: %+v", req)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(proto.Channel{ID: "c9", Name: req.Name, Kind: req.Kind, MemberIDs: req.MemberIDs})
	}))
	defer ts.Close()

	client := New(ts.URL, "tok")
	created, err := client.CreateChannel(context.Background(), CreateChannelRequest{
		Name:      "eng",
		Kind:      proto.ChannelRegular,
		MemberIDs: []string{"u1", "u2"},
	})
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if created.ID != "c9" {
		t.Fatalf("unexpected channel: %+v", created)
	}
}

func TestLogin(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("login must not carry a bearer token")
		}
		var req struct{ Username, Password string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "amara" || req.Password != "amara123" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-abc"})
	}))
	defer ts.Close()

	token, err := Login(context.Background(), ts.URL, "amara", "amara123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != "tok-abc" {
		t.Fatalf("token = %q", token)
	}

	if _, err := Login(context.Background(), ts.URL, "amara", "wrong"); !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401, got %v", err)
	}
}
