package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/rokas2025/playvoice/internal/protocol"
)

var (
	// ErrHandshakeTimeout is returned when token fetch or stream open does
	// not finish within the handshake timeout
	ErrHandshakeTimeout = errors.New("transcription handshake timed out")
	// ErrDisconnected is returned when the transcription connection ends
	// while capture is active
	ErrDisconnected = errors.New("transcription connection lost")
)

// Transport opens connections to a realtime transcription backend
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is one open transcription connection. SendAudio and Receive may be
// called from different goroutines.
type Conn interface {
	SendAudio(ctx context.Context, pcm []byte, commit bool) error
	Receive(ctx context.Context) (*protocol.Message, error)
	Close() error
}

// wsConn adapts a websocket connection to Conn. Writes are serialized since
// the websocket does not allow concurrent writers.
type wsConn struct {
	conn       *websocket.Conn
	sampleRate int
	logger     *zap.Logger

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn, sampleRate int, logger *zap.Logger) *wsConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &wsConn{
		conn:       conn,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// SendAudio writes one input_audio_chunk message
func (c *wsConn) SendAudio(ctx context.Context, pcm []byte, commit bool) error {
	data, err := protocol.EncodeAudioChunk(pcm, c.sampleRate, commit)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: write: %w", ErrDisconnected, err)
	}
	return nil
}

// Receive returns the next well-formed inbound message, skipping binary
// frames and messages that do not decode
func (c *wsConn) Receive(ctx context.Context) (*protocol.Message, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				return nil, fmt.Errorf("%w: closed with status %d", ErrDisconnected, status)
			}
			return nil, fmt.Errorf("%w: read: %w", ErrDisconnected, err)
		}
		if typ != websocket.MessageText {
			continue
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Debug("Skipping malformed transcription message", zap.Error(err))
			continue
		}
		return msg, nil
	}
}

// Close closes the connection with a normal closure; later calls return
// the first result
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, "capture stopped")
	})
	return c.closeErr
}
