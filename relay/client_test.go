package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// startFakeRelay runs a minimal relay: acks every EVENT (rejecting ids in
// reject), and echoes published events back to all open subscriptions.
func startFakeRelay(t *testing.T, reject map[string]string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		subs := map[string]bool{}
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var frame []json.RawMessage
			if json.Unmarshal(data, &frame) != nil || len(frame) == 0 {
				continue
			}
			var label string
			_ = json.Unmarshal(frame[0], &label)
			switch label {
			case "EVENT":
				var ev Event
				if json.Unmarshal(frame[1], &ev) != nil {
					continue
				}
				if reason, bad := reject[ev.ID]; bad {
					resp, _ := json.Marshal([]any{"OK", ev.ID, false, reason})
					_ = conn.Write(ctx, websocket.MessageText, resp)
					continue
				}
				resp, _ := json.Marshal([]any{"OK", ev.ID, true, ""})
				_ = conn.Write(ctx, websocket.MessageText, resp)
				for subID := range subs {
					out, _ := json.Marshal([]any{"EVENT", subID, ev})
					_ = conn.Write(ctx, websocket.MessageText, out)
				}
			case "REQ":
				var subID string
				_ = json.Unmarshal(frame[1], &subID)
				subs[subID] = true
			case "CLOSE":
				var subID string
				_ = json.Unmarshal(frame[1], &subID)
				delete(subs, subID)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client := NewClient(ClientConfig{URL: url, PublishTimeout: 2 * time.Second}, zap.NewNop())
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func signedEvent(t *testing.T, content string) *Event {
	t.Helper()
	signer, err := NewLocalSigner()
	require.NoError(t, err)
	ev := NewEvent(KindDelegateRequest, content).Tag(TagRecipient, "worker")
	require.NoError(t, signer.Sign(context.Background(), ev))
	return ev
}

func TestClient_Publish_Acked(t *testing.T) {
	client := newTestClient(t, startFakeRelay(t, nil))
	require.NoError(t, client.Publish(context.Background(), signedEvent(t, "hello")))
}

func TestClient_Publish_Rejected(t *testing.T) {
	ev := signedEvent(t, "blocked")
	client := newTestClient(t, startFakeRelay(t, map[string]string{ev.ID: "rate-limited"}))

	err := client.Publish(context.Background(), ev)
	require.Error(t, err)
	assert.Equal(t, types.ErrRelayRejected, types.GetErrorCode(err))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestClient_Publish_Unsigned(t *testing.T) {
	client := newTestClient(t, startFakeRelay(t, nil))
	err := client.Publish(context.Background(), NewEvent(KindMessage, "no sig"))
	assert.ErrorIs(t, err, ErrUnsigned)
}

func TestClient_Subscribe_ReceivesMatching(t *testing.T) {
	client := newTestClient(t, startFakeRelay(t, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := client.Subscribe(ctx, Filter{Recipients: []string{"worker"}})
	require.NoError(t, err)

	ev := signedEvent(t, "for worker")
	require.NoError(t, client.Publish(context.Background(), ev))

	select {
	case got := <-events:
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, "for worker", got.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for subscribed event")
	}
}

func TestClient_Subscribe_DispatchRacesUnsubscribe(t *testing.T) {
	client := newTestClient(t, startFakeRelay(t, nil))
	ev := signedEvent(t, "contended")

	// Drive dispatch and unsubscribe head-to-head on the same
	// subscription. A delivery racing the teardown must be dropped or
	// delivered, never sent on a closed channel.
	for i := 0; i < 500; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		events, err := client.Subscribe(ctx, Filter{})
		require.NoError(t, err)

		client.subMu.RLock()
		var subID string
		for id := range client.subs {
			subID = id
		}
		client.subMu.RUnlock()
		frame, err := json.Marshal([]any{"EVENT", subID, ev})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			client.dispatch(frame)
		}()
		go func() {
			defer wg.Done()
			client.unsubscribe(subID)
		}()
		wg.Wait()
		cancel()

		for range events {
			// Drain whatever the race delivered; ends when the channel
			// closes.
		}
	}
}
