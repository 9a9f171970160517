package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeData(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/organisation/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{
			"_id":     chi.URLParam(r, "id"),
			"profile": map[string]any{"_id": "u1", "username": "alice"},
			"channels": []map[string]any{
				{"_id": "c1", "name": "general", "unreadMessagesNumber": 4, "isPublic": true},
			},
			"conversations": []map[string]any{
				{"_id": "d1", "collaborators": []string{"u1", "u2"}, "createdBy": "u2"},
			},
		})
	})
	r.Get("/channel/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "channel not found"})
			return
		}
		writeData(w, map[string]any{"_id": chi.URLParam(r, "id"), "name": "general"})
	})
	r.Get("/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"_id": chi.URLParam(r, "id"), "collaborators": []map[string]any{{"_id": "u1"}, {"_id": "u2", "username": "bob"}}})
	})
	r.Get("/messages", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		scope := q.Get("channelId")
		if scope == "" {
			scope = q.Get("conversation")
		}
		writeData(w, []map[string]any{
			{"_id": scope + "-m1", "content": "hi", "organisation": q.Get("organisation")},
			{"_id": scope + "-m2", "content": "there", "organisation": q.Get("organisation")},
		})
	})
	r.Get("/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"_id": chi.URLParam(r, "id"), "threadRepliesCount": 1})
	})
	r.Get("/threads", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []map[string]any{{"_id": "t1", "message": r.URL.Query().Get("message")}})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) *Client {
	c := NewClient(newTestServer(t).URL)
	c.SetToken("tok")
	return c
}

func TestGetOrganisation(t *testing.T) {
	c := newTestClient(t)

	org, err := c.GetOrganisation(context.Background(), "org1")
	require.NoError(t, err)
	assert.Equal(t, "org1", org.ID)
	assert.Equal(t, "u1", org.Profile.ID)
	require.Len(t, org.Channels, 1)
	assert.Equal(t, 4, org.Channels[0].Unread)
	require.Len(t, org.Conversations, 1)
	assert.Equal(t, "u2", org.Conversations[0].Counterpart("u1"))
}

func TestListMessagesScopes(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	msgs, err := c.ListChannelMessages(ctx, "org1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "c1-m1", msgs[0].ID)
	assert.Equal(t, "org1", msgs[0].Organisation)

	msgs, err = c.ListConversationMessages(ctx, "org1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1-m2", msgs[1].ID)
}

func TestThreadEndpoints(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	parent, err := c.GetMessage(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, parent.ThreadRepliesCount)

	threads, err := c.ListThreads(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "p1", threads[0].Message)
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	anon := NewClient(srv.URL)
	_, err := anon.GetChannel(ctx, "c1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Unauthorized())
	assert.Equal(t, "invalid token", apiErr.Message)

	c := NewClient(srv.URL)
	c.SetToken("tok")
	_, err = c.GetChannel(ctx, "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.NotFound())
	assert.Equal(t, "channel not found", apiErr.Message)

	conv, err := c.GetConversation(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "bob", conv.DisplayName())
}
