package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	subsModels "wanderer-kills/internal/subscriptions/models"
	subs "wanderer-kills/internal/subscriptions/services"
	"wanderer-kills/internal/websocket/dto"
	"wanderer-kills/pkg/pubsub"
)

// Lobby implements the killmails:lobby channel semantics: join with system
// and character filters, live filter patches, kill-count forwarding and the
// optional preload backfill.
type Lobby struct {
	manager   *subs.Manager
	preloader *Preloader
	bus       *pubsub.Broadcaster
}

// NewLobby creates the lobby.
func NewLobby(manager *subs.Manager, preloader *Preloader, bus *pubsub.Broadcaster) *Lobby {
	return &Lobby{manager: manager, preloader: preloader, bus: bus}
}

// session is one connection's lobby state. The read loop is the only mutator.
type session struct {
	lobby *Lobby
	conn  *Connection
	subID string

	systems    map[int32]struct{}
	characters map[int64]struct{}

	countSubs map[int32]*pubsub.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
}

// Handle runs one connection's session until the transport dies.
func (l *Lobby) Handle(conn *Connection) {
	conn.StartReadDeadlines()

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		lobby:      l,
		conn:       conn,
		systems:    make(map[int32]struct{}),
		characters: make(map[int64]struct{}),
		countSubs:  make(map[int32]*pubsub.Subscription),
		ctx:        ctx,
		cancel:     cancel,
	}
	defer s.teardown()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			slog.Debug("WebSocket read ended", "connection_id", conn.ID, "error", err)
			return
		}
		s.dispatch(frame)
	}
}

func (s *session) dispatch(frame *dto.Frame) {
	switch frame.Event {
	case dto.EventJoin:
		s.handleJoin(frame.Payload)
	case dto.EventSubscribeSystems:
		s.handleFilterPatch(frame.Payload, true, false)
	case dto.EventUnsubscribeSystems:
		s.handleFilterPatch(frame.Payload, false, false)
	case dto.EventSubscribeCharacters:
		s.handleFilterPatch(frame.Payload, true, true)
	case dto.EventUnsubscribeCharacters:
		s.handleFilterPatch(frame.Payload, false, true)
	case dto.EventGetStatus:
		s.handleGetStatus()
	default:
		s.pushError(fmt.Sprintf("unknown event %q", frame.Event))
	}
}

func (s *session) handleJoin(payload json.RawMessage) {
	if s.subID != "" {
		s.pushError("already joined")
		return
	}

	var params dto.JoinParams
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &params); err != nil {
			s.pushError("invalid join payload")
			return
		}
	}

	if len(params.Systems) == 0 && len(params.Characters) == 0 {
		s.pushError("at least one system or character filter required")
		return
	}
	if len(params.Systems) > subsModels.MaxSystemsWebSocket {
		s.pushError(fmt.Sprintf("at most %d systems per join", subsModels.MaxSystemsWebSocket))
		return
	}
	if len(params.Characters) > subsModels.MaxCharacters {
		s.pushError(fmt.Sprintf("at most %d characters per join", subsModels.MaxCharacters))
		return
	}

	sub := &subsModels.Subscription{
		SubscriberID: s.conn.ID,
		SystemIDs:    params.Systems,
		CharacterIDs: params.Characters,
		Kind:         subsModels.KindWebSocket,
	}

	subID, err := s.lobby.manager.Add(sub, s.conn)
	if err != nil {
		s.pushError(err.Error())
		return
	}
	s.subID = subID

	for _, id := range params.Systems {
		s.systems[id] = struct{}{}
	}
	for _, id := range params.Characters {
		s.characters[id] = struct{}{}
	}
	s.syncCountSubs()

	slog.Info("Channel joined killmails lobby",
		"connection_id", s.conn.ID,
		"subscription_id", subID,
		"systems", len(params.Systems),
		"characters", len(params.Characters))

	if params.Preload != nil && params.Preload.Enabled {
		go s.lobby.preloader.Run(s.ctx, s.conn, params.Systems, *params.Preload)
	}
}

// handleFilterPatch applies subscribe/unsubscribe events for systems or
// characters and pushes the diff into the owning worker.
func (s *session) handleFilterPatch(payload json.RawMessage, add, characters bool) {
	if s.subID == "" {
		s.pushError("join first")
		return
	}

	var patch dto.FilterPatch
	if err := json.Unmarshal(payload, &patch); err != nil {
		s.pushError("invalid filter payload")
		return
	}

	if characters {
		for _, id := range patch.Characters {
			if add {
				s.characters[id] = struct{}{}
			} else {
				delete(s.characters, id)
			}
		}
		if len(s.characters) > subsModels.MaxCharacters {
			s.pushError(fmt.Sprintf("at most %d characters", subsModels.MaxCharacters))
			return
		}
	} else {
		for _, id := range patch.Systems {
			if add {
				s.systems[id] = struct{}{}
			} else {
				delete(s.systems, id)
			}
		}
		if len(s.systems) > subsModels.MaxSystemsWebSocket {
			s.pushError(fmt.Sprintf("at most %d systems", subsModels.MaxSystemsWebSocket))
			return
		}
	}

	systems := make([]int32, 0, len(s.systems))
	for id := range s.systems {
		systems = append(systems, id)
	}
	chars := make([]int64, 0, len(s.characters))
	for id := range s.characters {
		chars = append(chars, id)
	}

	if err := s.lobby.manager.Update(s.subID, &subsModels.Patch{
		SystemIDs:    &systems,
		CharacterIDs: &chars,
	}); err != nil {
		s.pushError(err.Error())
		return
	}
	s.syncCountSubs()
}

func (s *session) handleGetStatus() {
	if s.subID == "" {
		s.pushError("join first")
		return
	}

	snap, err := s.lobby.manager.Get(s.subID)
	if err != nil {
		s.pushError(err.Error())
		return
	}
	if err := s.conn.Push(dto.EventStatus, snap); err != nil {
		slog.Debug("Status push failed", "connection_id", s.conn.ID, "error", err)
	}
}

// syncCountSubs keeps one pub/sub count subscription per watched system,
// forwarding kill_count_update events onto the channel.
func (s *session) syncCountSubs() {
	for systemID, sub := range s.countSubs {
		if _, ok := s.systems[systemID]; !ok {
			sub.Unsubscribe()
			delete(s.countSubs, systemID)
		}
	}

	for systemID := range s.systems {
		if _, ok := s.countSubs[systemID]; ok {
			continue
		}
		sub := s.lobby.bus.Subscribe(pubsub.TopicSystemCount(systemID), 0)
		s.countSubs[systemID] = sub

		go func(sub *pubsub.Subscription) {
			for {
				select {
				case msg, ok := <-sub.C():
					if !ok {
						return
					}
					if err := s.conn.Push(dto.EventKillCountUpdate, msg.Payload); err != nil {
						return
					}
				case <-s.ctx.Done():
					return
				}
			}
		}(sub)
	}
}

func (s *session) pushError(message string) {
	if err := s.conn.Push(dto.EventError, dto.ErrorPayload{Message: message}); err != nil {
		slog.Debug("Error push failed", "connection_id", s.conn.ID, "error", err)
	}
}

// teardown cancels preload, detaches count forwarding and closes the
// connection; the subscription worker notices the dead channel and the
// manager cleans the indices.
func (s *session) teardown() {
	s.cancel()
	for _, sub := range s.countSubs {
		sub.Unsubscribe()
	}
	s.conn.Close()

	if s.subID != "" {
		slog.Info("Channel left killmails lobby",
			"connection_id", s.conn.ID,
			"subscription_id", s.subID,
			"uptime", time.Since(s.conn.createdAt).Round(time.Second).String())
	}
}
