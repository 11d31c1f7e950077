// handlers/ws.go - Real-time battle gateway (nhooyr websocket over net/http)
package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"quizdash/apperrors"
	"quizdash/logger"
	"quizdash/middleware"
	"quizdash/services"
)

const (
	sendBufferSize = 64
	writeWait      = 10 * time.Second
	pingPeriod     = 20 * time.Second
)

// Message is the wire envelope in both directions.
type Message struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Player is one live connection. All outbound traffic funnels through the
// bounded send channel so a slow client never blocks a publisher.
type Player struct {
	UserID   string
	Username string
	Conn     *websocket.Conn

	send   chan Message
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   []*services.Subscription
	battle *services.Battle
}

// WSGateway terminates WebSocket connections and bridges them onto the
// broker topics and the battle engine.
type WSGateway struct {
	challenges *services.ChallengeService
	battles    *services.BattleManager
	reconciler *services.Reconciler
	presence   *services.PresenceDirectory
	broker     *services.Broker
}

func NewWSGateway(challenges *services.ChallengeService, battles *services.BattleManager, reconciler *services.Reconciler, presence *services.PresenceDirectory, broker *services.Broker) *WSGateway {
	return &WSGateway{
		challenges: challenges,
		battles:    battles,
		reconciler: reconciler,
		presence:   presence,
		broker:     broker,
	}
}

// Handler upgrades the connection. The token arrives as a query parameter
// (browser WebSocket clients cannot set headers) or a Bearer header.
func (g *WSGateway) Handler(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
	}

	userID, username, err := middleware.ParseToken(tokenString)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Warn("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	player := &Player{
		UserID:   userID,
		Username: username,
		Conn:     conn,
		send:     make(chan Message, sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	logger.Info("player connected", "user_id", userID, "username", username)

	g.presence.Heartbeat(userID, username)
	g.attach(player, services.TopicPresence)
	g.attach(player, services.UserTopic(userID))

	player.sendMessage("connected", map[string]interface{}{
		"user_id":  userID,
		"username": username,
	})

	go player.writePump()
	go player.pingPump()
	g.readPump(player)

	// Cleanup after the read pump returns.
	cancel()
	g.presence.Leave(userID)
	player.mu.Lock()
	subs := player.subs
	player.subs = nil
	player.mu.Unlock()
	for _, sub := range subs {
		g.broker.Unsubscribe(sub)
	}
	logger.Info("player disconnected", "user_id", userID)
}

// attach subscribes the player to a topic and relays its events onto the
// send channel until the connection ends.
func (g *WSGateway) attach(p *Player, topic string) {
	sub := g.broker.Subscribe(topic)
	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				payload := map[string]interface{}{
					"topic": ev.Topic,
					"seq":   ev.Seq,
				}
				for k, v := range ev.Payload {
					payload[k] = v
				}
				p.sendMessage(ev.Type, payload)
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (g *WSGateway) readPump(p *Player) {
	defer func() {
		p.cancel()
		p.Conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var msg Message
		err := wsjson.Read(p.ctx, p.Conn, &msg)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				logger.Debug("websocket closed", "user_id", p.UserID)
			} else {
				logger.Debug("websocket read error", "user_id", p.UserID, "error", err)
			}
			return
		}
		g.dispatch(p, msg)
	}
}

func (p *Player) writePump() {
	defer func() {
		p.Conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case msg, ok := <-p.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(p.ctx, writeWait)
			err := wsjson.Write(ctx, p.Conn, msg)
			cancel()
			if err != nil {
				logger.Debug("websocket write error", "user_id", p.UserID, "error", err)
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Player) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.ctx, writeWait)
			err := p.Conn.Ping(ctx)
			cancel()
			if err != nil {
				p.cancel()
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// sendMessage queues without blocking; a full buffer drops the message.
func (p *Player) sendMessage(msgType string, payload map[string]interface{}) {
	select {
	case p.send <- Message{Type: msgType, Payload: payload}:
	default:
		logger.Warn("send buffer full, dropping message", "user_id", p.UserID, "type", msgType)
	}
}

func (p *Player) sendError(err error) {
	p.sendMessage("error", map[string]interface{}{
		"message": err.Error(),
		"code":    apperrors.CodeOf(err),
	})
}

func (g *WSGateway) dispatch(p *Player, msg Message) {
	switch msg.Type {
	case "ping":
		p.sendMessage("pong", nil)
		g.presence.Heartbeat(p.UserID, p.Username)

	case "heartbeat":
		g.presence.Heartbeat(p.UserID, p.Username)

	case "join_battle":
		g.handleJoinBattle(p, msg)

	case "submit_answer":
		g.handleSubmitAnswer(p, msg)

	case "advance":
		g.handleAdvance(p)

	case "finish":
		g.handleFinish(p)

	case "leave":
		g.presence.Leave(p.UserID)
		p.cancel()

	default:
		p.sendError(apperrors.New(apperrors.ErrCodeValidation, "unknown message type"))
	}
}

func (g *WSGateway) handleJoinBattle(p *Player, msg Message) {
	challengeID, _ := msg.Payload["challenge_id"].(string)
	if challengeID == "" {
		p.sendError(apperrors.New(apperrors.ErrCodeValidation, "challenge_id is required"))
		return
	}

	ch, err := g.challenges.Get(p.ctx, challengeID)
	if err != nil {
		p.sendError(err)
		return
	}
	role, ok := ch.RoleOf(p.UserID)
	if !ok {
		p.sendError(apperrors.New(apperrors.ErrCodeForbidden, "you are not a participant of this challenge"))
		return
	}

	// The engine outlives this connection: the clock keeps running and the
	// score still lands if the client drops mid-battle.
	battle, err := g.battles.Join(context.Background(), ch, role, p.UserID)
	if err != nil {
		p.sendError(err)
		return
	}

	p.mu.Lock()
	rejoin := p.battle == battle
	p.battle = battle
	p.mu.Unlock()

	g.attach(p, services.ChallengeTopic(challengeID))
	if !rejoin {
		go g.awaitOutcome(p, battle)
	}

	state := battle.Snapshot()
	questions := battle.Questions()
	wireQuestions := make([]map[string]interface{}, 0, len(questions))
	for _, q := range questions {
		// The correct option stays server-side.
		wireQuestions = append(wireQuestions, map[string]interface{}{
			"prompt":  q.Prompt,
			"options": q.Options,
		})
	}

	p.sendMessage("battle_joined", map[string]interface{}{
		"challenge_id":   challengeID,
		"role":           string(role),
		"questions":      wireQuestions,
		"current_index":  state.CurrentIndex,
		"time_remaining": state.TimeRemaining,
	})
}

// awaitOutcome follows the battle to its end, then blocks in the waiting
// room until the opposing side reports (or is force-completed) and pushes
// the reconciled result to this client.
func (g *WSGateway) awaitOutcome(p *Player, battle *services.Battle) {
	select {
	case <-battle.Done():
	case <-p.ctx.Done():
		return
	}

	outcome, err := g.reconciler.Await(p.ctx, battle.ChallengeID, p.UserID)
	g.battles.Remove(battle.ChallengeID, battle.Role)
	if err != nil {
		if p.ctx.Err() == nil {
			p.sendError(err)
		}
		return
	}

	payload := map[string]interface{}{
		"challenge_id":   outcome.ChallengeID,
		"draw":           outcome.Draw,
		"host_score":     outcome.HostScore,
		"opponent_score": outcome.OpponentScore,
	}
	if outcome.WinnerID != nil {
		payload["winner_id"] = *outcome.WinnerID
	}
	p.sendMessage("challenge_completed", payload)
}

func (g *WSGateway) handleSubmitAnswer(p *Player, msg Message) {
	battle := p.currentBattle()
	if battle == nil {
		p.sendError(apperrors.New(apperrors.ErrCodeConflict, "no active battle"))
		return
	}

	questionIndex, ok1 := msg.Payload["question_index"].(float64)
	optionIndex, ok2 := msg.Payload["option_index"].(float64)
	if !ok1 || !ok2 {
		p.sendError(apperrors.New(apperrors.ErrCodeValidation, "question_index and option_index are required"))
		return
	}

	if err := battle.Submit(int(questionIndex), int(optionIndex)); err != nil {
		p.sendError(err)
		return
	}
	if err := battle.Advance(p.ctx); err != nil {
		p.sendError(err)
		return
	}

	state := battle.Snapshot()
	p.sendMessage("answer_recorded", map[string]interface{}{
		"challenge_id":   battle.ChallengeID,
		"current_index":  state.CurrentIndex,
		"time_remaining": state.TimeRemaining,
		"finished":       state.Finished,
	})
}

// handleAdvance skips the current question without answering it.
func (g *WSGateway) handleAdvance(p *Player) {
	battle := p.currentBattle()
	if battle == nil {
		p.sendError(apperrors.New(apperrors.ErrCodeConflict, "no active battle"))
		return
	}
	if err := battle.Advance(p.ctx); err != nil {
		p.sendError(err)
		return
	}
	state := battle.Snapshot()
	p.sendMessage("advanced", map[string]interface{}{
		"challenge_id":  battle.ChallengeID,
		"current_index": state.CurrentIndex,
		"finished":      state.Finished,
	})
}

// handleFinish ends the battle early at the player's request.
func (g *WSGateway) handleFinish(p *Player) {
	battle := p.currentBattle()
	if battle == nil {
		p.sendError(apperrors.New(apperrors.ErrCodeConflict, "no active battle"))
		return
	}
	if err := battle.Finish(p.ctx); err != nil {
		p.sendError(err)
	}
}

func (p *Player) currentBattle() *services.Battle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.battle
}
