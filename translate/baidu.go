package translate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/tarotobot/config"
)

const defaultEndpoint = "https://fanyi-api.baidu.com/api/trans/vip/translate"

// Client translates short strings with the Baidu general translation API.
// Every failure falls back to the source text.
type Client struct {
	appID    string
	appKey   string
	endpoint string
	client   *retryablehttp.Client
	log      *logrus.Entry
}

type baiduResponse struct {
	From        string `json:"from"`
	To          string `json:"to"`
	ErrorCode   string `json:"error_code"`
	ErrorMsg    string `json:"error_msg"`
	TransResult []struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	} `json:"trans_result"`
}

// NewClient creates a translation client
func NewClient(cfg config.BaiduConfig, log *logrus.Entry) *Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 1
	client.HTTPClient.Timeout = 5 * time.Second

	return &Client{
		appID:    cfg.AppID,
		appKey:   cfg.AppKey,
		endpoint: defaultEndpoint,
		client:   client,
		log:      log,
	}
}

// Configured reports whether credentials are present
func (c *Client) Configured() bool {
	return c.appID != "" && c.appKey != ""
}

// Translate returns text translated from one language to another. Empty
// input, missing credentials and any API failure return text unchanged.
func (c *Client) Translate(ctx context.Context, text, from, to string) string {
	if text == "" || !c.Configured() {
		return text
	}

	translated, err := c.translate(ctx, text, from, to)
	if err != nil {
		c.log.WithError(err).WithField("text_len", len(text)).Warn("translation failed, using source text")
		return text
	}
	return translated
}

func (c *Client) translate(ctx context.Context, text, from, to string) (string, error) {
	salt := strconv.Itoa(32768 + rand.IntN(32769))

	params := url.Values{}
	params.Set("q", text)
	params.Set("from", from)
	params.Set("to", to)
	params.Set("appid", c.appID)
	params.Set("salt", salt)
	params.Set("sign", Sign(c.appID, text, salt, c.appKey))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	res, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var body baiduResponse
	if err := sonic.Unmarshal(data, &body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(body.TransResult) == 0 {
		return "", fmt.Errorf("no translation (error_code=%s, error_msg=%s)", body.ErrorCode, body.ErrorMsg)
	}

	var sb strings.Builder
	for _, item := range body.TransResult {
		sb.WriteString(item.Dst)
	}
	return sb.String(), nil
}

// Sign computes the request signature md5(appid + q + salt + key)
func Sign(appID, q, salt, appKey string) string {
	sum := md5.Sum([]byte(appID + q + salt + appKey))
	return hex.EncodeToString(sum[:])
}
