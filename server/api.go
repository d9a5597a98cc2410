package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/tarotobot/audiostore"
	"github.com/room4-2/tarotobot/fortune"
	"github.com/room4-2/tarotobot/messages"
	"github.com/room4-2/tarotobot/tarot"
)

const (
	maxBodySize  = 64 * 1024
	precardCount = 3
)

// CardDrawer draws random tarot cards
type CardDrawer interface {
	Draw(ctx context.Context, n int) ([]tarot.Card, error)
}

// Translator translates text, returning the input on failure
type Translator interface {
	Translate(ctx context.Context, text, from, to string) string
}

// ChatCompleter answers one system+user prompt pair
type ChatCompleter interface {
	Configured() bool
	Complete(ctx context.Context, system, user string) (string, error)
}

// SpeechSynthesizer turns text into WAV audio
type SpeechSynthesizer interface {
	Configured() bool
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AudioStore keeps synthesized audio for later download
type AudioStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
}

// Services are the external collaborators behind the HTTP API
type Services struct {
	Cards      CardDrawer
	Translator Translator
	Chat       ChatCompleter
	Speech     SpeechSynthesizer
	Audio      AudioStore
}

func (s *Server) handlePushText(w http.ResponseWriter, r *http.Request) {
	var req messages.PushTextRequest
	if err := decodeJSON(r, &req); err != nil || req.Text == nil {
		writeError(w, http.StatusBadRequest, "请求体必须包含 text 字段", "请求格式错误")
		return
	}

	count := s.sessionManager.Broadcast(*req.Text)
	s.log.WithFields(logrus.Fields{"text_len": len(*req.Text), "broadcast_to": count}).Info("text pushed to browsers")

	writeJSON(w, http.StatusOK, messages.PushTextResponse{
		Status:      "ok",
		BroadcastTo: count,
	})
}

func (s *Server) handleProcessInput(w http.ResponseWriter, r *http.Request) {
	var req messages.ProcessInputRequest
	if err := decodeJSON(r, &req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "请求体必须包含 text 字段", "请求格式错误")
		return
	}

	if !s.services.Chat.Configured() {
		writeError(w, http.StatusInternalServerError, "API密钥未配置", "系统配置错误，请联系管理员")
		return
	}

	reply, err := s.services.Chat.Complete(r.Context(), fortune.VoiceSystemPrompt, req.Text)
	if err != nil {
		s.log.WithError(err).Error("chat completion failed")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("AI模型调用失败: %v", err), "AI服务暂时不可用，请稍后重试")
		return
	}

	writeJSON(w, http.StatusOK, messages.ProcessInputResponse{
		Status:   "ok",
		AIText:   reply,
		AudioURL: s.speak(r.Context(), reply),
	})
}

// speak synthesizes reply and returns its download path, or "" when speech
// is unavailable.
func (s *Server) speak(ctx context.Context, reply string) string {
	if !s.services.Speech.Configured() {
		return ""
	}

	audio, err := s.services.Speech.Synthesize(ctx, reply)
	if err != nil {
		s.log.WithError(err).Warn("speech synthesis failed, replying with text only")
		return ""
	}

	id, err := s.services.Audio.Put(ctx, audio)
	if err != nil {
		s.log.WithError(err).Warn("failed to store synthesized audio")
		return ""
	}
	return "/api/audio/" + id
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	data, err := s.services.Audio.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, audiostore.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.log.WithError(err).Error("failed to load audio")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) handlePreCards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	empty := messages.PreCardsResponse{Cards: []messages.PreparedCard{}}

	cards, err := s.services.Cards.Draw(ctx, precardCount)
	if err != nil {
		s.log.WithError(err).Warn("card source unavailable, returning no cards")
		writeJSON(w, http.StatusOK, empty)
		return
	}

	prepared := make([]messages.PreparedCard, len(cards))
	var wg sync.WaitGroup
	for i, card := range cards {
		prepared[i] = messages.PreparedCard{NameEn: card.Name, MeaningUpEn: card.MeaningUp}

		p := &prepared[i]
		s.translateAsync(ctx, &wg, card.Name, &p.NameZh)
		s.translateAsync(ctx, &wg, card.MeaningUp, &p.MeaningUpZh)
	}
	wg.Wait()

	writeJSON(w, http.StatusOK, messages.PreCardsResponse{Cards: prepared})
}

func (s *Server) translateAsync(ctx context.Context, wg *sync.WaitGroup, text string, dst *string) {
	wg.Add(1)
	s.pool.Submit(func() {
		defer wg.Done()
		*dst = s.services.Translator.Translate(ctx, text, "en", "zh")
	})
}

func (s *Server) handleDivine(w http.ResponseWriter, r *http.Request) {
	var req messages.DivineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("请求格式错误: %v", err), "请检查提交的信息是否完整")
		return
	}

	birth, err := fortune.ParseBirthDate(req.BirthDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("日期格式错误: %v", err), "请检查出生日期格式是否正确")
		return
	}

	bazi, err := fortune.ComputeBazi(birth)
	if err != nil {
		s.log.WithError(err).WithField("birth_date", req.BirthDate).Warn("bazi calculation failed")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("八字计算失败: %v", err), "命理计算出现错误，请重试")
		return
	}

	if !s.services.Chat.Configured() {
		writeError(w, http.StatusInternalServerError, "API密钥未配置", "系统配置错误，请联系管理员")
		return
	}

	reply, err := s.services.Chat.Complete(r.Context(), fortune.SystemPrompt,
		fortune.UserPrompt(req.Name, bazi, req.Question, req.Cards))
	if err != nil {
		s.log.WithError(err).Error("chat completion failed")
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("AI模型调用失败: %v", err),
			"AI占卜服务暂时不可用，请稍后重试。如果问题持续，请检查API密钥配置。")
		return
	}

	writeJSON(w, http.StatusOK, messages.DivineResponse{
		BaziSummary: bazi.Summary(),
		Reply:       reply,
	})
}

func decodeJSON(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	return sonic.Unmarshal(data, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message, reply string) {
	writeJSON(w, status, messages.ErrorResponse{Error: message, Reply: reply})
}
