// internal/transport/switch.go

// Package transport implements the switch listener: the websocket boundary
// that authenticates bots, feeds their frames into the inbound command
// queue and pumps the outbound queue back to them. The dispatcher never
// touches a connection; everything crosses the two queues.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/amanahuja/codewars-server/internal/models"
	"github.com/amanahuja/codewars-server/internal/queue"
)

const writeTimeout = 5 * time.Second

// BotClaims are the JWT claims a bot presents when attaching. Mode and
// Language mirror the switch-side login parameters.
type BotClaims struct {
	BotID    int    `json:"botId"`
	Mode     int    `json:"mode"`
	Language string `json:"language"`
	jwt.RegisteredClaims
}

// clientFrame is what a connected bot sends: the command type plus its
// metadata; the bot id comes from the authenticated session, never from
// the frame.
type clientFrame struct {
	Type     string `json:"type"`
	MetaData string `json:"metaData"`
}

type botConn struct {
	connID uuid.UUID
	botID  int
	conn   *websocket.Conn
}

// Listener accepts bot connections and bridges them onto the queues.
type Listener struct {
	inbound  *queue.Queue[models.Command]
	outbound *queue.Queue[models.CmdPack]

	jwtSecret     []byte
	switchKeyHash []byte
	log           logrus.FieldLogger

	mu    sync.Mutex
	conns map[int]*botConn
}

// NewListener wires a listener to the dispatcher's queues. switchKeyHash is
// the bcrypt hash of the shared switch key; empty disables the key check.
func NewListener(inbound *queue.Queue[models.Command], outbound *queue.Queue[models.CmdPack], jwtSecret, switchKeyHash string, logger logrus.FieldLogger) *Listener {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Listener{
		inbound:       inbound,
		outbound:      outbound,
		jwtSecret:     []byte(jwtSecret),
		switchKeyHash: []byte(switchKeyHash),
		log:           logger,
		conns:         make(map[int]*botConn),
	}
}

// NewBotToken mints a session token for a bot. Used by the switch-side
// tooling and by tests.
func NewBotToken(botID, mode int, language, secret string, ttl time.Duration) (string, error) {
	claims := BotClaims{
		BotID:    botID,
		Mode:     mode,
		Language: language,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// authenticate validates the switch key and the bot token carried in the
// request query.
func (l *Listener) authenticate(r *http.Request) (*BotClaims, error) {
	if len(l.switchKeyHash) > 0 {
		key := r.URL.Query().Get("key")
		if err := bcrypt.CompareHashAndPassword(l.switchKeyHash, []byte(key)); err != nil {
			return nil, fmt.Errorf("switch key rejected: %w", err)
		}
	}

	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		return nil, fmt.Errorf("missing token")
	}
	claims := &BotClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return l.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.BotID < 0 {
		return nil, fmt.Errorf("invalid bot id %d", claims.BotID)
	}
	return claims, nil
}

// ServeHTTP upgrades the connection, authenticates the bot, synthesizes its
// LOGIN_INFORM and runs the read loop until the connection dies. The loop
// must run inside the handler: net/http cancels the request context once
// ServeHTTP returns, which would kill reads on a live connection.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		l.log.WithError(err).Warn("websocket accept failed")
		return
	}

	claims, err := l.authenticate(r)
	if err != nil {
		l.log.WithError(err).Warn("bot connection rejected")
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	bc := &botConn{connID: uuid.New(), botID: claims.BotID, conn: conn}

	l.mu.Lock()
	if prev, ok := l.conns[bc.botID]; ok {
		// A second connection for a logged-in bot loses; the dispatcher
		// treats the duplicate LOGIN_INFORM as a warning either way.
		l.mu.Unlock()
		l.log.WithFields(logrus.Fields{"bot_id": bc.botID, "conn_id": prev.connID}).
			Warn("duplicate connection for bot rejected")
		conn.Close(websocket.StatusPolicyViolation, "bot already connected")
		return
	}
	l.conns[bc.botID] = bc
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{"bot_id": bc.botID, "conn_id": bc.connID}).Info("bot attached")
	l.inbound.Push(models.Command{
		Type:     models.CmdLoginInform,
		BotID:    bc.botID,
		MetaData: fmt.Sprintf("mode=%d,language=%s", claims.Mode, claims.Language),
	})

	l.readLoop(r.Context(), bc)
}

// readLoop turns client frames into inbound commands until the connection
// dies, then reports the bot as disconnected.
func (l *Listener) readLoop(ctx context.Context, bc *botConn) {
	defer func() {
		l.mu.Lock()
		if cur, ok := l.conns[bc.botID]; ok && cur == bc {
			delete(l.conns, bc.botID)
		}
		l.mu.Unlock()
		bc.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var frame clientFrame
		if err := wsjson.Read(ctx, bc.conn, &frame); err != nil {
			l.log.WithFields(logrus.Fields{"bot_id": bc.botID, "conn_id": bc.connID}).
				WithError(err).Info("bot connection closed")
			l.inbound.Push(models.Command{Type: models.CmdDisconnectBotRemote, BotID: bc.botID})
			return
		}
		l.inbound.Push(models.Command{Type: frame.Type, BotID: bc.botID, MetaData: frame.MetaData})
	}
}

// Run pumps the outbound queue to the connected bots until the queue is
// closed. A pack for a bot with no live connection is dropped with a log
// line; the switch is responsible for redelivery semantics, not the core.
func (l *Listener) Run(ctx context.Context) {
	for {
		pack, ok := l.outbound.Pop()
		if !ok {
			l.log.Info("outbound queue closed, switch pump stopping")
			return
		}
		l.deliver(ctx, pack)
	}
}

func (l *Listener) deliver(ctx context.Context, pack models.CmdPack) {
	l.mu.Lock()
	bc := l.conns[pack.TargetBotID]
	l.mu.Unlock()
	if bc == nil {
		l.log.WithFields(logrus.Fields{"bot_id": pack.TargetBotID, "cmd": pack.Type}).
			Debug("dropping outbound command for unconnected bot")
		return
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	err := wsjson.Write(wctx, bc.conn, pack)
	cancel()
	if err != nil {
		l.log.WithFields(logrus.Fields{"bot_id": bc.botID, "cmd": pack.Type}).
			WithError(err).Warn("failed to deliver outbound command")
		return
	}

	// A remote-disconnect command doubles as the order to drop the link.
	if pack.Type == models.CmdDisconnectBotRemote {
		bc.conn.Close(websocket.StatusPolicyViolation, pack.Payload)
	}
}
