package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Log Stream: logsSubscribe over the RPC websocket
// Keeps one connection, resubscribes every registered program after a
// reconnect and fans notifications out to per-program callbacks.
// ---------------------------------------------------------------------------

// LogStreamConfig configures the log subscription stream.
type LogStreamConfig struct {
	WSEndpoint     string        `yaml:"ws_endpoint"`
	Commitment     string        `yaml:"commitment"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

// DefaultLogStreamConfig returns defaults for mainnet monitoring.
func DefaultLogStreamConfig() LogStreamConfig {
	return LogStreamConfig{
		WSEndpoint:     "wss://api.mainnet-beta.solana.com",
		Commitment:     "confirmed",
		ReconnectDelay: 5 * time.Second,
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
	}
}

// LogStream implements LogSubscriber on a single websocket connection.
type LogStream struct {
	config LogStreamConfig

	mu        sync.RWMutex
	conn      *websocket.Conn
	handlers  map[Pubkey][]func(LogNotification)
	pending   map[int64]Pubkey // request ID -> program
	subs      map[int64]Pubkey // subscription ID -> program
	requested map[Pubkey]bool  // programs subscribed on the current connection
	writeMu   sync.Mutex
	nextReqID atomic.Int64

	// Stats.
	messagesRecv  atomic.Int64
	notifications atomic.Int64
	reconnects    atomic.Int64
	connected     atomic.Bool
}

// NewLogStream creates a log stream. Call Run to connect.
func NewLogStream(config LogStreamConfig) *LogStream {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.Commitment == "" {
		config.Commitment = "confirmed"
	}
	return &LogStream{
		config:    config,
		handlers:  make(map[Pubkey][]func(LogNotification)),
		pending:   make(map[int64]Pubkey),
		subs:      make(map[int64]Pubkey),
		requested: make(map[Pubkey]bool),
	}
}

// OnLogs registers callback for logs mentioning programID. Registering on a
// live connection subscribes immediately; otherwise on the next connect.
func (s *LogStream) OnLogs(programID Pubkey, callback func(LogNotification)) {
	s.mu.Lock()
	_, known := s.handlers[programID]
	s.handlers[programID] = append(s.handlers[programID], callback)
	s.mu.Unlock()

	if !known && s.connected.Load() {
		if err := s.subscribe(programID); err != nil {
			log.Warn().Err(err).Str("program", shortKey(programID)).Msg("ws: subscribe failed")
		}
	}
}

// Run connects and reconnects until ctx is cancelled.
func (s *LogStream) Run(ctx context.Context) error {
	defer s.disconnect()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := s.connect(ctx); err != nil {
			log.Warn().Err(err).Dur("retry_in", s.config.ReconnectDelay).Msg("ws: connection failed")
			s.reconnects.Add(1)
			select {
			case <-time.After(s.config.ReconnectDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		s.mu.RLock()
		programs := make([]Pubkey, 0, len(s.handlers))
		for pid := range s.handlers {
			programs = append(programs, pid)
		}
		s.mu.RUnlock()

		for _, pid := range programs {
			if err := s.subscribe(pid); err != nil {
				log.Warn().Err(err).Str("program", shortKey(pid)).Msg("ws: subscribe failed")
			}
		}

		s.readLoop(ctx)
		s.disconnect()

		if ctx.Err() != nil {
			return nil
		}
		s.reconnects.Add(1)
		select {
		case <-time.After(s.config.ReconnectDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *LogStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.config.WSEndpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.pending = make(map[int64]Pubkey)
	s.subs = make(map[int64]Pubkey)
	s.requested = make(map[Pubkey]bool)
	s.mu.Unlock()
	s.connected.Store(true)

	log.Info().Str("endpoint", s.config.WSEndpoint).Msg("ws: connected")
	return nil
}

func (s *LogStream) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected.Store(false)
}

// subscribe sends a logsSubscribe request for a program. A program already
// requested on the current connection is skipped.
func (s *LogStream) subscribe(programID Pubkey) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return fmt.Errorf("ws: not connected")
	}
	if s.requested[programID] {
		s.mu.Unlock()
		return nil
	}
	s.requested[programID] = true
	reqID := s.nextReqID.Add(1)
	s.pending[reqID] = programID
	s.mu.Unlock()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      reqID,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{string(programID)}},
			map[string]any{"commitment": s.config.Commitment},
		},
	}

	s.writeMu.Lock()
	err := conn.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		if s.conn == conn {
			delete(s.requested, programID)
			delete(s.pending, reqID)
		}
		s.mu.Unlock()
		return fmt.Errorf("ws: write subscribe: %w", err)
	}

	log.Info().Str("program", shortKey(programID)).Msg("ws: subscribed to program logs")
	return nil
}

func (s *LogStream) readLoop(ctx context.Context) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}

	done := make(chan struct{})
	defer close(done)

	// Unblock ReadMessage on shutdown and keep the connection alive.
	go func() {
		ticker := time.NewTicker(s.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				s.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				s.writeMu.Unlock()
				if err != nil {
					log.Debug().Err(err).Msg("ws: ping failed")
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("ws: connection closed normally")
			} else {
				log.Warn().Err(err).Msg("ws: read error, reconnecting")
			}
			s.connected.Store(false)
			return
		}

		s.messagesRecv.Add(1)
		s.handleMessage(message)
	}
}

// wsFrame covers subscription confirmations and log notifications.
type wsFrame struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params struct {
		Result struct {
			Value struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
				Logs      []string        `json:"logs"`
			} `json:"value"`
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
		} `json:"result"`
		Subscription int64 `json:"subscription"`
	} `json:"params"`
}

func (s *LogStream) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: handleMessage panic recovered")
		}
	}()

	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Debug().Err(err).Msg("ws: dropping malformed frame")
		return
	}

	if frame.Method != "logsNotification" {
		if frame.ID == nil {
			return
		}
		var subID int64
		if json.Unmarshal(frame.Result, &subID) != nil {
			return
		}
		s.mu.Lock()
		if pid, ok := s.pending[*frame.ID]; ok {
			delete(s.pending, *frame.ID)
			s.subs[subID] = pid
		}
		s.mu.Unlock()
		log.Debug().Int64("sub_id", subID).Msg("ws: subscription confirmed")
		return
	}

	s.mu.RLock()
	pid, ok := s.subs[frame.Params.Subscription]
	handlers := append([]func(LogNotification){}, s.handlers[pid]...)
	s.mu.RUnlock()
	if !ok {
		return
	}

	value := frame.Params.Result.Value
	n := LogNotification{
		ProgramID:  pid,
		Signature:  Signature(value.Signature),
		Slot:       frame.Params.Result.Context.Slot,
		Logs:       value.Logs,
		Failed:     len(value.Err) > 0 && string(value.Err) != "null",
		ReceivedAt: time.Now(),
	}
	s.notifications.Add(1)

	for _, h := range handlers {
		h(n)
	}
}

func shortKey(k Pubkey) string {
	if len(k) > 8 {
		return string(k[:8])
	}
	return string(k)
}

// LogStreamStats returns stream statistics.
type LogStreamStats struct {
	Connected     bool  `json:"connected"`
	MessagesRecv  int64 `json:"messages_recv"`
	Notifications int64 `json:"notifications"`
	Reconnects    int64 `json:"reconnects"`
	Subscriptions int   `json:"subscriptions"`
}

func (s *LogStream) Stats() LogStreamStats {
	s.mu.RLock()
	subs := len(s.subs)
	s.mu.RUnlock()
	return LogStreamStats{
		Connected:     s.connected.Load(),
		MessagesRecv:  s.messagesRecv.Load(),
		Notifications: s.notifications.Load(),
		Reconnects:    s.reconnects.Load(),
		Subscriptions: subs,
	}
}

// Connected reports whether the websocket is up.
func (s *LogStream) Connected() bool {
	return s.connected.Load()
}
