// Command webchat-client is a terminal client for the webchat server. It
// keeps a synced view of rooms, friends and conversations, logs every change,
// and reads commands from stdin:
//
//	/room <id>   open a room
//	/dm <userId> open a direct conversation
//	<text>       send to whatever is open
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jeffrywalsh/webchat/internal/client"
	"github.com/jeffrywalsh/webchat/internal/config"
	"github.com/jeffrywalsh/webchat/internal/models"
	"github.com/jeffrywalsh/webchat/internal/observ"
	"github.com/jeffrywalsh/webchat/internal/ws"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	server := config.GetEnv("WEBCHAT_SERVER", "http://localhost:8081")
	refresh, err := config.GetDuration("STATUS_REFRESH_INTERVAL", 30*time.Second)
	if err != nil {
		return err
	}

	logger, err := observ.NewLogger(config.GetEnv("ENV", "development"), config.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := &apiClient{base: strings.TrimRight(server, "/"), http: &http.Client{Timeout: 10 * time.Second}}
	token := config.GetEnv("WEBCHAT_TOKEN", "")
	if token == "" {
		token, err = api.login(ctx, config.GetEnv("WEBCHAT_USERNAME", ""), config.GetEnv("WEBCHAT_PASSWORD", ""))
		if err != nil {
			return err
		}
	}
	me, err := api.me(ctx, token)
	if err != nil {
		return err
	}

	wsURL, err := websocketURL(api.base)
	if err != nil {
		return err
	}

	c := client.New(client.Options{
		URL:             wsURL,
		Token:           token,
		UserID:          me.ID,
		RefreshInterval: refresh,
		Logger:          logger,
		OnChange:        logChange(logger.Named("view")),
	})

	go readCommands(ctx, c, logger)

	logger.Info("connecting", zap.String("url", wsURL), zap.String("username", me.Username))
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// logChange summarizes the view after each update.
func logChange(logger *zap.Logger) func(string, *client.View) {
	return func(event string, v *client.View) {
		switch event {
		case ws.EventNewMessage, ws.EventNewDM, ws.EventRoomMessages, ws.EventDMMessages, ws.EventMessageDeleted:
			if n := len(v.Messages); n > 0 {
				last := v.Messages[n-1]
				logger.Info(event,
					zap.Int("messages", n),
					zap.String("last_from", last.SenderUsername),
					zap.String("last", last.Content),
				)
				return
			}
		case ws.EventError:
			if v.LastError != nil {
				logger.Warn("server error", zap.String("code", v.LastError.Code), zap.String("message", v.LastError.Message))
				return
			}
		}
		logger.Debug(event,
			zap.Int("rooms", len(v.Rooms)),
			zap.Int("friends", len(v.Friends)),
			zap.Int("conversations", len(v.Conversations)),
			zap.Int("online", len(v.OnlineUsers)),
			zap.Int("pending_requests", v.PendingRequests),
			zap.Any("unread", v.Unread),
		)
	}
}

func readCommands(ctx context.Context, c *client.Client, logger *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := command(c, line); err != nil {
			logger.Warn("command failed", zap.String("input", line), zap.Error(err))
		}
	}
}

func command(c *client.Client, line string) error {
	if verb, arg, ok := strings.Cut(line, " "); ok && (verb == "/room" || verb == "/dm") {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil {
			return fmt.Errorf("bad id %q", arg)
		}
		kind := client.SelectRoom
		if verb == "/dm" {
			kind = client.SelectDM
		}
		c.Select(client.Selection{Kind: kind, ID: id})
		return nil
	}

	var sel client.Selection
	c.Snapshot(func(v *client.View) { sel = v.Selection })
	switch sel.Kind {
	case client.SelectRoom:
		return c.Send(ws.EventSendMessage, ws.SendMessageRequest{RoomID: sel.ID, Content: line})
	case client.SelectDM:
		return c.Send(ws.EventSendDM, ws.SendDMRequest{RecipientID: sel.ID, Content: line})
	}
	return errors.New("nothing open, use /room <id> or /dm <userId>")
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse WEBCHAT_SERVER: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	return u.String(), nil
}

type apiClient struct {
	base string
	http *http.Client
}

func (a *apiClient) login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", errors.New("set WEBCHAT_TOKEN or WEBCHAT_USERNAME and WEBCHAT_PASSWORD")
	}
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/auth/login", "", bytes.NewReader(body), &out); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return out.Token, nil
}

func (a *apiClient) me(ctx context.Context, token string) (*models.User, error) {
	var u models.User
	if err := a.do(ctx, http.MethodGet, "/v1/users/me", token, nil, &u); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &u, nil
}

func (a *apiClient) do(ctx context.Context, method, path, token string, body *bytes.Reader, out any) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, a.base+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, a.base+path, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
