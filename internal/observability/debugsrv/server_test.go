package debugsrv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricebot/internal/delivery"
	"pricebot/internal/notifier"
	"pricebot/internal/poller"
	"pricebot/internal/subscription"
	logx "pricebot/pkg/logx"
)

type staticTasks []poller.TaskInfo

func (s staticTasks) Snapshot() []poller.TaskInfo { return s }

type staticSends []notifier.HistoryItem

func (s staticSends) Snapshot() []notifier.HistoryItem { return s }

type staticStates map[string]delivery.State

func (s staticStates) Snapshot() map[string]delivery.State { return s }

func get(t *testing.T, url, bearer string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func TestServer_ServesSnapshots(t *testing.T) {
	t.Parallel()

	tasks := staticTasks{{Key: "@chan", Generation: "g1", Ticks: 3}}
	sends := staticSends{{To: "@chan", Text: "TON Price: *2\\.35$*"}}
	reg := subscription.NewRegistry()
	reg.Add("@chan")
	reg.Add("@alpha")
	states := staticStates{"@chan": {LastPrice: 2.35, HasPrice: true}}
	s := New(Config{Addr: "127.0.0.1:0", Token: "secret"}, Deps{
		Tasks:         tasks,
		Sends:         sends,
		Subscriptions: reg,
		States:        states,
	}, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
	}()
	base := "http://" + s.Addr()

	code, _ := get(t, base+"/debug/tasks", "")
	require.Equal(t, http.StatusUnauthorized, code)

	code, body := get(t, base+"/debug/tasks", "secret")
	require.Equal(t, http.StatusOK, code)
	var got []poller.TaskInfo
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
	require.Equal(t, "@chan", got[0].Key)
	require.Equal(t, uint64(3), got[0].Ticks)

	code, _ = get(t, base+"/debug/tasks", "secreT")
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = get(t, base+"/debug/sends?token=secret", "")
	require.Equal(t, http.StatusOK, code)

	code, body = get(t, base+"/debug/subscriptions", "secret")
	require.Equal(t, http.StatusOK, code)
	var subs []string
	require.NoError(t, json.Unmarshal(body, &subs))
	require.Equal(t, []string{"@alpha", "@chan"}, subs)

	code, body = get(t, base+"/debug/state", "secret")
	require.Equal(t, http.StatusOK, code)
	var st map[string]delivery.State
	require.NoError(t, json.Unmarshal(body, &st))
	require.True(t, st["@chan"].HasPrice)
	require.Equal(t, 2.35, st["@chan"].LastPrice)

	code, body = get(t, base+"/healthz", "secret")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", string(body))

	code, _ = get(t, base+"/debug/audit", "secret")
	require.Equal(t, http.StatusNotFound, code)
}

func TestCheckBind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		addr, token string
		ok          bool
	}{
		{"", "", true},
		{"127.0.0.1:6060", "", true},
		{"localhost:6060", "", true},
		{"[::1]:6060", "", true},
		{":6060", "", false},
		{"0.0.0.0:6060", "", false},
		{"0.0.0.0:6060", "t", true},
	}
	for _, tc := range cases {
		err := CheckBind(tc.addr, tc.token)
		if (err == nil) != tc.ok {
			t.Fatalf("CheckBind(%q, %q) = %v, want ok=%v", tc.addr, tc.token, err, tc.ok)
		}
	}
}
