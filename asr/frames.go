package asr

import (
	"encoding/base64"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/room4-2/tarotobot/config"
)

// Audio frame status markers
const (
	StatusFirst    = 0
	StatusContinue = 1
	StatusLast     = 2
)

const (
	audioFormat   = "audio/L16;rate=16000"
	audioEncoding = "raw"
)

// Frame is one request frame on the recognizer socket
type Frame struct {
	Common   *CommonParams   `json:"common,omitempty"`
	Business *BusinessParams `json:"business,omitempty"`
	Data     FrameData       `json:"data"`
}

// CommonParams identifies the application; first frame only
type CommonParams struct {
	AppID string `json:"app_id"`
}

// BusinessParams carries recognition parameters; first frame only
type BusinessParams struct {
	Language string `json:"language"`
	Domain   string `json:"domain"`
	Accent   string `json:"accent"`
	VADEOS   int    `json:"vad_eos"`
}

// FrameData carries one base64 PCM chunk
type FrameData struct {
	Status   int    `json:"status"`
	Format   string `json:"format"`
	Encoding string `json:"encoding"`
	Audio    string `json:"audio"`
}

// Response is one event from the recognizer
type Response struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Sid     string        `json:"sid"`
	Data    *ResponseData `json:"data,omitempty"`
}

// ResponseData wraps a partial recognition result
type ResponseData struct {
	Status int     `json:"status"`
	Result *Result `json:"result,omitempty"`
}

// Result holds word fragments
type Result struct {
	Sn int    `json:"sn"`
	Ls bool   `json:"ls"`
	Ws []Word `json:"ws"`
}

// Word is a list of candidate fragments
type Word struct {
	Cw []Candidate `json:"cw"`
}

// Candidate is a single recognized fragment
type Candidate struct {
	W string `json:"w"`
}

// NewFirstFrame builds the initialization frame with empty audio
func NewFirstFrame(cfg config.IflytekConfig) *Frame {
	return &Frame{
		Common: &CommonParams{AppID: cfg.AppID},
		Business: &BusinessParams{
			Language: "zh_cn",
			Domain:   "iat",
			Accent:   "mandarin",
			VADEOS:   cfg.VADEOS,
		},
		Data: newFrameData(StatusFirst, nil),
	}
}

// NewAudioFrame builds a continuation frame carrying pcm
func NewAudioFrame(pcm []byte) *Frame {
	return &Frame{Data: newFrameData(StatusContinue, pcm)}
}

// NewLastFrame builds the end-of-utterance frame
func NewLastFrame() *Frame {
	return &Frame{Data: newFrameData(StatusLast, nil)}
}

func newFrameData(status int, pcm []byte) FrameData {
	return FrameData{
		Status:   status,
		Format:   audioFormat,
		Encoding: audioEncoding,
		Audio:    base64.StdEncoding.EncodeToString(pcm),
	}
}

// Encode serializes the frame
func (f *Frame) Encode() ([]byte, error) {
	return sonic.Marshal(f)
}

// DecodeResponse parses one recognizer event
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Text concatenates every fragment of the response, or "" if there is none
func (r *Response) Text() string {
	if r.Data == nil || r.Data.Result == nil {
		return ""
	}
	var sb strings.Builder
	for _, ws := range r.Data.Result.Ws {
		for _, cw := range ws.Cw {
			sb.WriteString(cw.W)
		}
	}
	return sb.String()
}

// Final reports whether the recognizer marked this as the last result
func (r *Response) Final() bool {
	return r.Data != nil && r.Data.Status == StatusLast
}
