package asr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/room4-2/tarotobot/config"
	"github.com/room4-2/tarotobot/messages"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	maxAudioFrame    = 512 * 1024
)

// Proxy relays browser PCM audio to the streaming recognizer and recognized
// text back to the browser, one upstream connection per browser session.
type Proxy struct {
	cfg    config.IflytekConfig
	dialer *websocket.Dialer
	log    *logrus.Entry
	now    func() time.Time
}

// NewProxy creates a speech proxy for the given recognizer configuration
func NewProxy(cfg config.IflytekConfig, log *logrus.Entry) *Proxy {
	return &Proxy{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   16 * 1024,
			WriteBufferSize:  64 * 1024,
		},
		log: log,
		now: time.Now,
	}
}

// stream is one browser audio session
type stream struct {
	id       string
	client   *websocket.Conn
	upstream *websocket.Conn
	log      *logrus.Entry

	// Both pumps report to the browser.
	clientMu sync.Mutex
}

// Serve runs one session on an accepted browser socket. It returns when both
// pumps have finished, after closing the upstream socket and then client.
func (p *Proxy) Serve(ctx context.Context, client *websocket.Conn) {
	id := uuid.New().String()[:8]
	s := &stream{
		id:     id,
		client: client,
		log:    p.log.WithField("session", id),
	}
	client.SetReadLimit(maxAudioFrame)

	if !p.cfg.Configured() {
		s.log.Error("recognizer credentials missing")
		_ = s.sendEvent(messages.NewErrorEvent("语音识别配置缺失：请设置 IFLYTEK_APP_ID / IFLYTEK_API_KEY / IFLYTEK_API_SECRET"))
		s.closeClient()
		return
	}

	defer s.cleanup()

	if err := s.connect(ctx, p); err != nil {
		s.log.WithError(err).Error("failed to open recognizer session")
		_ = s.sendEvent(messages.NewErrorEvent(fmt.Sprintf("连接语音识别服务失败: %v", err)))
		return
	}
	s.log.Info("recognizer session opened")

	var g errgroup.Group
	g.Go(s.forwardAudio)
	g.Go(s.forwardResults)

	if err := g.Wait(); err != nil {
		s.log.WithError(err).Warn("recognizer session ended with error")
		return
	}
	s.log.Info("recognizer session finished")
}

// connect dials the signed endpoint and sends the initialization frame
func (s *stream) connect(ctx context.Context, p *Proxy) error {
	authURL, err := SignURL(p.cfg, p.now())
	if err != nil {
		return err
	}

	upstream, resp, err := p.dialer.DialContext(ctx, authURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial recognizer: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial recognizer: %w", err)
	}
	s.upstream = upstream

	if err := s.writeUpstream(NewFirstFrame(p.cfg)); err != nil {
		return fmt.Errorf("send first frame: %w", err)
	}
	return nil
}

// forwardAudio pumps binary frames from the browser to the recognizer. When
// the browser goes away the final frame is always sent; it is the only
// end-of-utterance signal the recognizer gets.
func (s *stream) forwardAudio() error {
	frames := 0
	for {
		messageType, data, err := s.client.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.WithError(err).Debug("browser read ended")
			}
			if werr := s.writeUpstream(NewLastFrame()); werr != nil {
				return fmt.Errorf("send final frame after %d frames: %w", frames, werr)
			}
			s.log.WithField("frames", frames).Debug("final audio frame sent")
			return nil
		}

		if messageType != websocket.BinaryMessage {
			continue
		}

		if err := s.writeUpstream(NewAudioFrame(data)); err != nil {
			_ = s.sendEvent(messages.NewErrorEvent(fmt.Sprintf("转发音频失败: %v", err)))
			return fmt.Errorf("forward audio frame %d: %w", frames+1, err)
		}
		frames++
	}
}

// forwardResults pumps recognizer events to the browser until the end marker
// or until the recognizer closes the socket.
func (s *stream) forwardResults() error {
	for {
		_, data, err := s.upstream.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil
			}
			_ = s.sendEvent(messages.NewErrorEvent(err.Error()))
			return fmt.Errorf("read recognizer: %w", err)
		}

		resp, err := DecodeResponse(data)
		if err != nil {
			_ = s.sendEvent(messages.NewErrorEvent(err.Error()))
			return fmt.Errorf("decode recognizer event: %w", err)
		}

		if resp.Code == 0 {
			if text := resp.Text(); text != "" {
				if err := s.sendEvent(messages.NewResultEvent(text, resp.Final())); err != nil {
					return fmt.Errorf("send result: %w", err)
				}
			}
		} else {
			message := resp.Message
			if message == "" {
				message = "识别失败"
			}
			s.log.WithFields(logrus.Fields{"code": resp.Code, "sid": resp.Sid, "message": message}).Warn("recognizer returned error")
			if err := s.sendEvent(messages.NewErrorEvent(message)); err != nil {
				return fmt.Errorf("send error event: %w", err)
			}
		}

		if resp.Final() {
			if err := s.sendEvent(messages.NewDoneEvent()); err != nil {
				return fmt.Errorf("send done: %w", err)
			}
			return nil
		}
	}
}

// writeUpstream has a single caller at a time: connect, then forwardAudio.
func (s *stream) writeUpstream(f *Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	_ = s.upstream.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.upstream.WriteMessage(websocket.TextMessage, data)
}

func (s *stream) sendEvent(ev *messages.TranscriptEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}

	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	_ = s.client.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.client.WriteMessage(websocket.TextMessage, data)
}

func (s *stream) cleanup() {
	if s.upstream != nil {
		_ = s.upstream.Close()
	}
	s.closeClient()
}

func (s *stream) closeClient() {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	_ = s.client.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
	_ = s.client.Close()
}
