package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/your-org/scenewatch/internal/models"
	"github.com/your-org/scenewatch/internal/observability"
	"github.com/your-org/scenewatch/pkg/dto"
)

// MessageConn is the bidirectional channel to one field device.
// *websocket.Conn satisfies it directly.
type MessageConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

type sessionState int

const (
	stateUninitialized sessionState = iota
	stateActive
	stateClosed
)

// Session manages the lifecycle of one device ingestion connection:
// uninitialized until a valid init, active while observations flow, closed
// on streamEnded or disconnect.
type Session struct {
	manager *Manager
	conn    MessageConn

	state  sessionState
	stream *models.Stream
}

func NewSession(manager *Manager, conn MessageConn) *Session {
	return &Session{manager: manager, conn: conn}
}

// Run reads messages until the connection drops or the device signals the
// end of its stream, then finalizes the session. A bad message never tears
// down the connection; only transport errors do.
func (s *Session) Run(ctx context.Context) {
	observability.ActiveSessions.Inc()
	defer observability.ActiveSessions.Dec()
	defer s.finalize(ctx)
	defer s.conn.Close()

	for {
		var msg dto.DeviceMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if isDecodeError(err) {
				s.reply(dto.ErrorReply(dto.CodeValidation, "malformed message"))
				continue
			}
			return
		}

		switch msg.Type {
		case dto.MessageInit:
			s.handleInit(ctx, msg)
		case dto.MessageObservation:
			s.handleObservation(ctx, msg)
		case dto.MessageStreamEnded:
			s.finalize(ctx)
			return
		default:
			s.reply(dto.ErrorReply(dto.CodeValidation, "unknown message type: "+msg.Type))
		}
	}
}

func (s *Session) handleInit(ctx context.Context, msg dto.DeviceMessage) {
	if s.state != stateUninitialized {
		s.reply(dto.ErrorReply(dto.CodeProtocolState, "session already initialized"))
		return
	}
	if msg.StreamID == "" || msg.Latitude == nil || msg.Longitude == nil {
		s.reply(dto.ErrorReply(dto.CodeValidation, "init requires stream_id, latitude and longitude"))
		return
	}

	startedAt := time.Now().UTC()
	if msg.Timestamp != nil {
		startedAt = msg.Timestamp.UTC()
	}

	st, created, err := s.manager.InitStream(ctx, msg.StreamID, *msg.Latitude, *msg.Longitude, startedAt)
	if err != nil {
		// Session state is unchanged so the device may retry the init.
		slog.Error("init stream failed", "stream_id", msg.StreamID, "error", err)
		s.reply(dto.ErrorReply(dto.CodeInternal, "stream initialization failed"))
		return
	}

	s.state = stateActive
	s.stream = st

	reply := dto.ServerReply{Type: dto.ReplyReady, StreamID: st.ID, Created: &created}
	if st.IncidentID != nil {
		reply.IncidentID = st.IncidentID
	}
	s.reply(reply)
}

func (s *Session) handleObservation(ctx context.Context, msg dto.DeviceMessage) {
	if s.state != stateActive {
		s.reply(dto.ErrorReply(dto.CodeProtocolState, "observation before init"))
		return
	}
	if msg.Scenario == "" {
		s.reply(dto.ErrorReply(dto.CodeValidation, "observation requires scenario"))
		return
	}

	obs := &models.Observation{
		Latitude:  s.stream.Latitude,
		Longitude: s.stream.Longitude,
		Type:      msg.ObsType,
		Scenario:  msg.Scenario,
		Data:      msg.Data,
	}
	if msg.Timestamp != nil {
		obs.Timestamp = msg.Timestamp.UTC()
	}
	if msg.Latitude != nil && msg.Longitude != nil {
		obs.Latitude = *msg.Latitude
		obs.Longitude = *msg.Longitude
	}

	if err := s.manager.RecordObservation(ctx, s.stream, obs, "session"); err != nil {
		// Only this operation aborts; the device may resend the message.
		slog.Error("record observation failed", "stream_id", s.stream.ID, "error", err)
		s.reply(dto.ErrorReply(dto.CodeInternal, "observation not recorded"))
		return
	}

	s.reply(dto.AckReply(obs.ID))
}

// finalize ends the owned stream exactly once. A session that never
// reached active performs no state mutation.
func (s *Session) finalize(ctx context.Context) {
	if s.state != stateActive {
		s.state = stateClosed
		return
	}
	s.state = stateClosed

	if err := s.manager.EndStream(ctx, s.stream, time.Now().UTC()); err != nil {
		slog.Error("end stream failed", "stream_id", s.stream.ID, "error", err)
	}
}

func (s *Session) reply(r dto.ServerReply) {
	if err := s.conn.WriteJSON(r); err != nil {
		slog.Debug("write reply failed", "error", err)
	}
}

// isDecodeError distinguishes a malformed payload, which keeps the
// connection open, from a transport failure, which ends the session.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
