package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twitchStub serves the minimal Helix surface the adapter touches.
type twitchStub struct {
	tokenCalls   atomic.Int64
	patchBodies  chan map[string]string
	gamesKnown   bool
	streamerLive bool
}

func newTwitchStub() *twitchStub {
	return &twitchStub{
		patchBodies: make(chan map[string]string, 4),
		gamesKnown:  true,
	}
}

func (s *twitchStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "app-token",
			"expires_in":   3600,
		})
	})

	mux.HandleFunc("GET /helix/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))
		assert.Equal(t, "my-channel", r.URL.Query().Get("login"))
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "42", "login": "my-channel"}},
		})
	})

	mux.HandleFunc("GET /helix/games", func(w http.ResponseWriter, r *http.Request) {
		if !s.gamesKnown {
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "509658", "name": r.URL.Query().Get("name")}},
		})
	})

	mux.HandleFunc("PATCH /helix/channels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("broadcaster_id"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		s.patchBodies <- body
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /helix/streams", func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]string{}
		if s.streamerLive {
			data = append(data, map[string]string{"type": "live"})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	})

	return httptest.NewServer(mux)
}

func newTestTwitch(srv *httptest.Server) *Twitch {
	return NewTwitch(TwitchOptions{
		ClientID:       "cid",
		ClientSecret:   "secret",
		Broadcaster:    "my-channel",
		TargetStreamer: "upstream",
		AuthURL:        srv.URL + "/oauth2/token",
		APIURL:         srv.URL + "/helix",
		Logger:         testLogger(),
	})
}

func TestTwitchUpdateStreamInfo(t *testing.T) {
	stub := newTwitchStub()
	srv := stub.server(t)
	defer srv.Close()

	tw := newTestTwitch(srv)
	require.NoError(t, tw.UpdateStreamInfo(context.Background(), "24/7 VODs", "Just Chatting"))

	body := <-stub.patchBodies
	assert.Equal(t, "24/7 VODs", body["title"])
	assert.Equal(t, "509658", body["game_id"])
}

func TestTwitchUnknownCategoryStillSetsTitle(t *testing.T) {
	stub := newTwitchStub()
	stub.gamesKnown = false
	srv := stub.server(t)
	defer srv.Close()

	tw := newTestTwitch(srv)
	require.NoError(t, tw.UpdateStreamInfo(context.Background(), "24/7 VODs", "No Such Game"))

	body := <-stub.patchBodies
	assert.Equal(t, "24/7 VODs", body["title"])
	_, hasGame := body["game_id"]
	assert.False(t, hasGame)
}

func TestTwitchCachesTokenAndCategory(t *testing.T) {
	stub := newTwitchStub()
	srv := stub.server(t)
	defer srv.Close()

	tw := newTestTwitch(srv)
	ctx := context.Background()

	require.NoError(t, tw.UpdateStreamInfo(ctx, "first", "Just Chatting"))
	require.NoError(t, tw.UpdateStreamInfo(ctx, "second", "Just Chatting"))
	<-stub.patchBodies
	<-stub.patchBodies

	assert.Equal(t, int64(1), stub.tokenCalls.Load())
}

func TestTwitchIsLive(t *testing.T) {
	stub := newTwitchStub()
	srv := stub.server(t)
	defer srv.Close()

	tw := newTestTwitch(srv)
	ctx := context.Background()

	live, err := tw.IsLive(ctx)
	require.NoError(t, err)
	assert.False(t, live)

	stub.streamerLive = true
	live, err = tw.IsLive(ctx)
	require.NoError(t, err)
	assert.True(t, live)
}

func TestTwitchIsLiveWithoutTargetIsNoop(t *testing.T) {
	tw := NewTwitch(TwitchOptions{
		ClientID: "cid", ClientSecret: "secret", Broadcaster: "me",
		Logger: testLogger(),
	})
	live, err := tw.IsLive(context.Background())
	require.NoError(t, err)
	assert.False(t, live)
}

func TestTwitchUpdateTitleOnly(t *testing.T) {
	stub := newTwitchStub()
	srv := stub.server(t)
	defer srv.Close()

	tw := newTestTwitch(srv)
	require.NoError(t, tw.UpdateTitle(context.Background(), "just a title"))

	body := <-stub.patchBodies
	assert.Equal(t, map[string]string{"title": "just a title"}, body)
}
