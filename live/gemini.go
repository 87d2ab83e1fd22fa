package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/d1nch8g/intake/audio"
)

const (
	GeminiEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	handshakeTimeout = 10 * time.Second
	eventBufferSize  = 256
)

// GeminiSession is a Session on the Gemini Live websocket API.
type GeminiSession struct {
	conn   *websocket.Conn
	logger *slog.Logger

	// the socket supports one concurrent writer
	writeMu sync.Mutex

	events  chan Event
	readErr error

	closed    chan struct{}
	closeOnce sync.Once
}

var _ Session = (*GeminiSession)(nil)

// Dial opens the websocket, sends the setup message and waits for the server
// to acknowledge it. An empty endpoint selects GeminiEndpoint.
func Dial(ctx context.Context, endpoint string, cfg Config, logger *slog.Logger) (*GeminiSession, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if endpoint == "" {
		endpoint = GeminiEndpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid live endpoint: %w", err)
	}
	if cfg.APIKey != "" {
		q := u.Query()
		q.Set("key", cfg.APIKey)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			logger.Error("live connection failed", slog.Int("status", resp.StatusCode))
		}
		return nil, fmt.Errorf("failed to connect to live endpoint: %w", err)
	}

	s := &GeminiSession{
		conn:   conn,
		logger: logger,
		events: make(chan Event, eventBufferSize),
		closed: make(chan struct{}),
	}

	if err := s.write(ctx, clientMessage{Setup: newSetupMessage(cfg)}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send setup: %w", err)
	}

	if err := s.awaitSetup(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("live session established", slog.String("model", cfg.Model))
	go s.readLoop()
	return s, nil
}

func (s *GeminiSession) awaitSetup(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(deadline)
		defer s.conn.SetReadDeadline(time.Time{})
	}

	// unblock the read below when ctx ends
	stop := context.AfterFunc(ctx, func() { s.conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("setup not acknowledged: %w", ctxErr)
			}
			return fmt.Errorf("failed to read setup acknowledgement: %w", err)
		}
		events, done, err := decodeServerMessage(data)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if len(events) > 0 {
			s.logger.Debug("ignoring events received before setup completed", slog.Int("count", len(events)))
		}
	}
}

func (s *GeminiSession) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				s.readErr = ErrClosed
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.readErr = ErrClosed
				} else {
					s.readErr = fmt.Errorf("failed to read from live session: %w", err)
				}
			}
			return
		}

		events, _, err := decodeServerMessage(data)
		if err != nil {
			s.logger.Warn("dropping undecodable server message", slog.String("error", err.Error()))
			continue
		}

		for _, ev := range events {
			select {
			case s.events <- ev:
			case <-s.closed:
				s.readErr = ErrClosed
				return
			}
		}
	}
}

// Receive returns the next event. After the connection ends it returns the
// read error; ErrClosed for an orderly close.
func (s *GeminiSession) Receive(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, s.readErr
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *GeminiSession) SendAudio(ctx context.Context, frame audio.Frame) error {
	return s.write(ctx, clientMessage{
		RealtimeInput: &realtimeInput{
			Audio: &blob{MIMEType: frame.MIMEType, Data: frame.Data},
		},
	})
}

func (s *GeminiSession) SendText(ctx context.Context, text string, endOfTurn bool) error {
	return s.write(ctx, clientMessage{
		ClientContent: &clientContent{
			Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
			TurnComplete: endOfTurn,
		},
	})
}

func (s *GeminiSession) SendToolResponse(ctx context.Context, responses ...FunctionResponse) error {
	wire := make([]functionResponse, 0, len(responses))
	for _, r := range responses {
		wire = append(wire, functionResponse{
			ID:         r.ID,
			Name:       r.Name,
			Response:   r.Response,
			Scheduling: string(r.Scheduling),
		})
	}
	return s.write(ctx, clientMessage{ToolResponse: &toolResponse{FunctionResponses: wire}})
}

func (s *GeminiSession) write(ctx context.Context, msg clientMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Close sends a close frame and tears down the connection.
func (s *GeminiSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)

		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			s.logger.Debug("failed to send close frame", slog.String("error", werr.Error()))
		}
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}
