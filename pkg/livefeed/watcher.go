package livefeed

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	handshakeTimeout = 10 * time.Second
	pingInterval     = 30 * time.Second
	readTimeout      = 75 * time.Second
)

var ErrConnectionLost = errors.New("live feed connection lost")

// FeedURL is the websocket address of a reader's live feed.
func FeedURL(host string, tls bool) string {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	if tls {
		u.Scheme = "wss"
	}
	return u.String()
}

// Watch follows the feed at feedURL and calls handle for every message until
// ctx is done. Lost connections are redialed with exponential backoff.
func Watch(ctx context.Context, feedURL string, handle func(*Message), log zerolog.Logger) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = time.Minute
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(policy, ctx)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	for {
		var conn *websocket.Conn
		err := backoff.RetryNotify(func() error {
			c, _, err := dialer.DialContext(ctx, feedURL, nil)
			if err != nil {
				return err
			}
			conn = c
			return nil
		}, retry, func(err error, wait time.Duration) {
			log.Warn().Err(err).Dur("retry_in", wait).Str("url", feedURL).Msg("live feed connect failed")
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		log.Info().Str("url", feedURL).Msg("connected to live feed")
		policy.Reset()

		err = follow(ctx, conn, handle, log)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("live feed lost, reconnecting")
	}
}

func follow(ctx context.Context, conn *websocket.Conn, handle func(*Message), log zerolog.Logger) error {
	done := make(chan struct{})
	defer close(done)

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(handshakeTimeout)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		messageType, b, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket error")
			}
			return errors.Join(ErrConnectionLost, err)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType != websocket.TextMessage {
			log.Debug().Int("type", messageType).Msg("ignoring non-text feed message")
			continue
		}
		m := MessageFromJsonBytes(b)
		if m == nil {
			log.Warn().Bytes("message", b).Msg("failed to parse feed message")
			continue
		}
		handle(m)
	}
}
