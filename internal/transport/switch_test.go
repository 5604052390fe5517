// internal/transport/switch_test.go
package transport

import (
	"context"
	"io"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/amanahuja/codewars-server/internal/models"
	"github.com/amanahuja/codewars-server/internal/queue"
)

const testSecret = "unit-test-secret"

func newTestListener(switchKeyHash string) *Listener {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewListener(queue.New[models.Command](), queue.New[models.CmdPack](), testSecret, switchKeyHash, l)
}

func requestWith(t *testing.T, key, token string) *url.URL {
	t.Helper()
	u, err := url.Parse("/switch")
	require.NoError(t, err)
	q := u.Query()
	if key != "" {
		q.Set("key", key)
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u
}

func TestAuthenticateAcceptsValidToken(t *testing.T) {
	l := newTestListener("")

	token, err := NewBotToken(42, 1, "go", testSecret, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", requestWith(t, "", token).String(), nil)
	claims, err := l.authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.BotID)
	assert.Equal(t, 1, claims.Mode)
	assert.Equal(t, "go", claims.Language)
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	l := newTestListener("")
	r := httptest.NewRequest("GET", "/switch", nil)
	_, err := l.authenticate(r)
	assert.Error(t, err)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	l := newTestListener("")

	token, err := NewBotToken(42, 0, "", "some-other-secret", time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", requestWith(t, "", token).String(), nil)
	_, err = l.authenticate(r)
	assert.Error(t, err)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	l := newTestListener("")

	token, err := NewBotToken(42, 0, "", testSecret, -time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", requestWith(t, "", token).String(), nil)
	_, err = l.authenticate(r)
	assert.Error(t, err)
}

func TestAuthenticateChecksSwitchKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("shared-key"), bcrypt.MinCost)
	require.NoError(t, err)
	l := newTestListener(string(hash))

	token, err := NewBotToken(7, 0, "", testSecret, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", requestWith(t, "shared-key", token).String(), nil)
	claims, err := l.authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, 7, claims.BotID)

	r = httptest.NewRequest("GET", requestWith(t, "wrong-key", token).String(), nil)
	_, err = l.authenticate(r)
	assert.Error(t, err)

	r = httptest.NewRequest("GET", requestWith(t, "", token).String(), nil)
	_, err = l.authenticate(r)
	assert.Error(t, err, "an absent key must not pass the check")
}

func popCommand(t *testing.T, q *queue.Queue[models.Command]) models.Command {
	t.Helper()
	got := make(chan models.Command, 1)
	go func() {
		if c, ok := q.Pop(); ok {
			got <- c
		}
	}()
	select {
	case c := <-got:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound command arrived")
		return models.Command{}
	}
}

func assertNoCommand(t *testing.T, q *queue.Queue[models.Command], wait time.Duration) {
	t.Helper()
	time.Sleep(wait)
	assert.Equal(t, 0, q.Len())
}

// TestAttachRoundTrip exercises the full connection lifecycle over a real
// websocket: attach, synthesized LOGIN_INFORM, client frame in, outbound
// pack out, then a clean close reported as exactly one disconnect.
func TestAttachRoundTrip(t *testing.T) {
	inbound := queue.New[models.Command]()
	outbound := queue.New[models.CmdPack]()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	l := NewListener(inbound, outbound, testSecret, "", logger)

	srv := httptest.NewServer(l)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go l.Run(ctx)
	defer outbound.Close()

	token, err := NewBotToken(42, 1, "go", testSecret, time.Minute)
	require.NoError(t, err)
	conn, _, err := websocket.Dial(ctx, srv.URL+"/switch?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	cmd := popCommand(t, inbound)
	assert.Equal(t, models.CmdLoginInform, cmd.Type)
	assert.Equal(t, 42, cmd.BotID)
	assert.Equal(t, "mode=1,language=go", cmd.MetaData)

	// An idle but open connection must not be reported as gone.
	assertNoCommand(t, inbound, 200*time.Millisecond)

	require.NoError(t, wsjson.Write(ctx, conn, clientFrame{Type: models.CmdTurnReply, MetaData: "challenge:pass"}))
	cmd = popCommand(t, inbound)
	assert.Equal(t, models.CmdTurnReply, cmd.Type)
	assert.Equal(t, 42, cmd.BotID, "the bot id comes from the session, not the frame")
	assert.Equal(t, "challenge:pass", cmd.MetaData)

	outbound.Push(models.CmdPack{Type: models.CmdPlayCardsRequest, Payload: "0", TargetBotID: 42, ResponseDeadlineMs: 10000})
	var pack models.CmdPack
	require.NoError(t, wsjson.Read(ctx, conn, &pack))
	assert.Equal(t, models.CmdPlayCardsRequest, pack.Type)
	assert.Equal(t, "0", pack.Payload)
	assert.Equal(t, 10000, pack.ResponseDeadlineMs)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	cmd = popCommand(t, inbound)
	assert.Equal(t, models.CmdDisconnectBotRemote, cmd.Type)
	assert.Equal(t, 42, cmd.BotID)
	assertNoCommand(t, inbound, 100*time.Millisecond)
}

func TestAuthenticateRejectsNegativeBotID(t *testing.T) {
	l := newTestListener("")

	token, err := NewBotToken(-5, 0, "", testSecret, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", requestWith(t, "", token).String(), nil)
	_, err = l.authenticate(r)
	assert.Error(t, err)
}
