package main

import (
	"bytes"
	"flag"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/tarotobot/logging"
	"github.com/room4-2/tarotobot/messages"
)

// Stands in for the device bridge: waits for the record command and pushes a
// canned transcript back through the HTTP API.
func main() {
	server := flag.String("server", "http://localhost:8000", "relay base URL")
	text := flag.String("text", "我今天的运势如何", "text pushed for every record command")
	delay := flag.Duration("delay", 2*time.Second, "simulated recording time")
	heartbeat := flag.Duration("heartbeat", 15*time.Second, "heartbeat interval")
	flag.Parse()

	log := logging.NewLogger("info")

	base, err := url.Parse(*server)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}
	wsURL := *base
	wsURL.Scheme = "ws"
	if base.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path = "/ws/bridge"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Infof("bridge connected to %s", wsURL.String())

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 2
	client.HTTPClient.Timeout = 5 * time.Second

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	commands := make(chan string)
	go func() {
		defer close(commands)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.WithError(err).Info("bridge socket closed")
				return
			}
			commands <- string(data)
		}
	}()

	ticker := time.NewTicker(*heartbeat)
	defer ticker.Stop()

	for {
		select {
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			if cmd != messages.BridgeStartRecord {
				log.WithField("frame", cmd).Debug("ignoring unknown frame")
				continue
			}
			log.Info("record command received")
			time.Sleep(*delay)
			push(client, base.String()+"/api/push_text", *text, log)

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				log.WithError(err).Error("heartbeat failed")
				return
			}

		case <-interrupt:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func push(client *retryablehttp.Client, endpoint, text string, log *logrus.Logger) {
	body, err := sonic.Marshal(messages.PushTextRequest{Text: &text})
	if err != nil {
		log.WithError(err).Error("encode push body")
		return
	}

	res, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		log.WithError(err).Error("push_text failed")
		return
	}
	defer res.Body.Close()

	var resp messages.PushTextResponse
	if err := sonic.ConfigDefault.NewDecoder(res.Body).Decode(&resp); err != nil || res.StatusCode != http.StatusOK {
		log.WithField("status", res.StatusCode).Error("push_text rejected")
		return
	}
	log.WithField("broadcast_to", resp.BroadcastTo).Info("text pushed")
}
