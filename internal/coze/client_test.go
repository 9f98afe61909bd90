package coze

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	assert.Equal(t, Message{Role: "user", Content: "hi", ContentType: "text", Type: TypeQuestion}, NewMessage("user", "hi"))
	assert.Equal(t, Message{Role: "assistant", Content: "yo", ContentType: "text", Type: TypeAnswer}, NewMessage("assistant", "yo"))
}

func TestClient_StreamSendsRequestAndDecodes(t *testing.T) {
	received := make(chan ChatRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		var got ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		received <- got

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event:conversation.message.delta\n")
		fmt.Fprint(w, `data:{"role":"assistant","type":"answer","content":"你好"}`+"\n\n")
		fmt.Fprint(w, "event:conversation.message.completed\n")
		fmt.Fprint(w, `data:{"role":"assistant","type":"answer","content":"你好"}`+"\n\n")
		fmt.Fprint(w, "event:done\ndata:[DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	req := ChatRequest{
		BotID:              "bot-1",
		UserID:             "13800000000",
		Stream:             true,
		AutoSaveHistory:    true,
		AdditionalMessages: []Message{NewMessage("user", "在吗")},
	}

	stream, err := c.Stream(context.Background(), req)
	require.NoError(t, err)
	defer stream.Close()

	reply, err := Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "你好", reply)
	assert.Equal(t, req, <-received)
}

func TestClient_RequestBodyFieldNames(t *testing.T) {
	raw, err := json.Marshal(ChatRequest{BotID: "b", UserID: "u", Stream: true, AutoSaveHistory: true,
		AdditionalMessages: []Message{NewMessage("user", "x")}})
	require.NoError(t, err)

	assert.JSONEq(t, `{"bot_id":"b","user_id":"u","stream":true,"auto_save_history":true,
		"additional_messages":[{"role":"user","content":"x","content_type":"text","type":"question"}]}`, string(raw))
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "secret", time.Second).Stream(context.Background(), ChatRequest{BotID: "b"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", time.Second)
	assert.False(t, c.Configured("bot"))

	_, err := c.Stream(context.Background(), ChatRequest{BotID: "bot"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	c.APIKey = "key"
	assert.False(t, c.Configured(""))
	assert.True(t, c.Configured("bot"))
}

func TestClient_IdleTimeoutWhileStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event:conversation.message.delta\n")
		fmt.Fprint(w, `data:{"role":"assistant","type":"answer","content":"部分"}`+"\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL, "secret", 100*time.Millisecond).Stream(context.Background(), ChatRequest{BotID: "b"})
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "部分", ev.Text)

	_, err = stream.Next()
	assert.True(t, IsTimeout(err), "got %v", err)
}

func TestClient_ContextCancelStopsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := NewClient(srv.URL, "secret", 5*time.Second).Stream(ctx, ChatRequest{BotID: "b"})
	require.NoError(t, err)
	defer stream.Close()

	cancel()
	_, err = stream.Next()
	assert.Error(t, err)
	assert.False(t, IsTimeout(err))
}
