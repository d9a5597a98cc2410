package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-audio/wav"
	"github.com/gorilla/websocket"

	"github.com/room4-2/tarotobot/logging"
	"github.com/room4-2/tarotobot/messages"
)

// 40ms of 16kHz 16-bit mono
const chunkSize = 1280

func main() {
	serverURL := flag.String("server", "ws://localhost:8000/ws/asr", "speech WebSocket URL")
	audioFile := flag.String("file", "examples/user.pcm", "audio to send (16kHz mono PCM or WAV)")
	realtime := flag.Bool("realtime", true, "pace chunks at 40ms")
	flag.Parse()

	log := logging.NewLogger("info")

	audioData, err := loadAudioFile(*audioFile)
	if err != nil {
		log.Fatalf("Failed to load audio: %v", err)
	}

	log.Infof("connecting to %s", *serverURL)
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			var ev messages.TranscriptEvent
			if err := conn.ReadJSON(&ev); err != nil {
				log.WithError(err).Info("read ended")
				return
			}

			switch ev.Type {
			case messages.TypeResult:
				final := ev.IsFinal != nil && *ev.IsFinal
				fmt.Printf("📝 %s (final=%v)\n", ev.Text, final)
			case messages.TypeError:
				log.Errorf("recognizer error: %s", ev.Message)
			case messages.TypeDone:
				log.Info("--- recognition done ---")
				return
			}
		}
	}()

	total := (len(audioData) + chunkSize - 1) / chunkSize
	for i := 0; i < len(audioData); i += chunkSize {
		end := min(i+chunkSize, len(audioData))
		if err := conn.WriteMessage(websocket.BinaryMessage, audioData[i:end]); err != nil {
			log.WithError(err).Error("send failed")
			break
		}
		log.Debugf("sent chunk %d/%d", i/chunkSize+1, total)

		if *realtime {
			time.Sleep(40 * time.Millisecond)
		}
	}
	log.Infof("sent %d chunks, closing audio stream", total)

	// Closing our side is the end-of-utterance signal.
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	select {
	case <-done:
	case <-interrupt:
		log.Info("interrupted")
	case <-time.After(30 * time.Second):
		log.Warn("timeout waiting for transcript")
	}
}

// loadAudioFile returns raw little-endian PCM from a WAV or headerless file
func loadAudioFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return os.ReadFile(path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		return nil, fmt.Errorf("need 16kHz mono 16-bit audio, got %dHz %d channels %d-bit",
			dec.SampleRate, dec.NumChans, dec.BitDepth)
	}

	pcm := make([]byte, 2*len(buf.Data))
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(sample)))
	}
	return pcm, nil
}
