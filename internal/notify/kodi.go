package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/obentoo/triggerdockerbuild/internal/common/config"
	"github.com/obentoo/triggerdockerbuild/internal/common/httpclient"
)

// ErrKodi is returned when Kodi rejects or fails a notification
var ErrKodi = errors.New("kodi notification failed")

// kodiDisplayTime is how long the popup stays on screen, in milliseconds
const kodiDisplayTime = 10000

// Poster sends JSON requests. *httpclient.Client satisfies it.
type Poster interface {
	PostJSON(ctx context.Context, url string, payload interface{}, req httpclient.Request) *httpclient.Response
}

// KodiNotifier shows a popup on a Kodi instance via JSON-RPC.
type KodiNotifier struct {
	cfg    config.KodiConfig
	client Poster
}

// NewKodiNotifier creates a notifier for the JSON-RPC endpoint in cfg.
func NewKodiNotifier(cfg config.KodiConfig, client Poster) *KodiNotifier {
	return &KodiNotifier{cfg: cfg, client: client}
}

type kodiRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	Method  string     `json:"method"`
	Params  kodiParams `json:"params"`
	ID      int        `json:"id"`
}

type kodiParams struct {
	Title       string `json:"title"`
	Message     string `json:"message"`
	DisplayTime int    `json:"displaytime"`
}

type kodiResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send calls GUI.ShowNotification with the title and a short message.
func (k *KodiNotifier) Send(ctx context.Context, n Notification) error {
	if k.cfg.URL == "" {
		return nil // Disabled
	}

	message := n.Message
	if n.Change != nil {
		message = fmt.Sprintf("%s: %s -> %s", n.Change.Action, n.Change.Previous, n.Change.Current)
	}

	payload := kodiRequest{
		JSONRPC: "2.0",
		Method:  "GUI.ShowNotification",
		Params:  kodiParams{Title: n.Title, Message: message, DisplayTime: kodiDisplayTime},
		ID:      1,
	}

	req := httpclient.Request{}
	if k.cfg.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(k.cfg.Username + ":" + k.cfg.Password))
		req.Headers = map[string]string{"Authorization": "Basic " + creds}
	}

	resp := k.client.PostJSON(ctx, k.cfg.URL, payload, req)
	if !resp.OK {
		return fmt.Errorf("%w: %s: %w", ErrKodi, k.cfg.URL, resp.Err)
	}

	var result kodiResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return fmt.Errorf("%w: invalid response: %v", ErrKodi, err)
	}
	if result.Error != nil {
		return fmt.Errorf("%w: %d %s", ErrKodi, result.Error.Code, result.Error.Message)
	}
	return nil
}
