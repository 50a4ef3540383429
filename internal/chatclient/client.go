// Package chatclient is a terminal client for one direct conversation.
package chatclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/proto"
	"github.com/vovakirdan/dmchat-server/internal/utils"
)

// Config selects the server, the credentials and the conversation partner.
type Config struct {
	ServerURL string // http(s) base URL, e.g. http://localhost:8080
	Token     string
	PeerID    string
}

// Client is one connected terminal session.
type Client struct {
	cfg    Config
	conn   *websocket.Conn
	out    io.Writer
	dedup  *Deduper
	http   *http.Client
	log    *zerolog.Logger
	selfID string
}

// New builds a client that prints to out.
func New(cfg Config, out io.Writer, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		cfg:   cfg,
		out:   out,
		dedup: NewDeduper(0),
		http:  &http.Client{Timeout: 10 * time.Second},
		log:   logger,
	}
}

// Run connects, prints history and then relays lines from in until ctx ends or in is exhausted.
func (c *Client) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wsURL, err := websocketURL(c.cfg.ServerURL)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.conn = conn
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := c.identify(ctx); err != nil {
		return err
	}
	if err := c.send(ctx, proto.InboundTypeJoinRoom, proto.RoomData{Room: core.RoomID(c.selfID, c.cfg.PeerID)}); err != nil {
		return err
	}

	history, err := c.History(ctx)
	if err != nil {
		return err
	}
	for _, m := range history {
		c.printMessage(m)
	}

	readErr := make(chan error, 1)
	go func() {
		defer cancel()
		readErr <- c.readLoop(ctx)
	}()

	c.writeLoop(ctx, in)
	inputDone := ctx.Err() == nil
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	err = <-readErr
	if inputDone || err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) identify(ctx context.Context) error {
	if err := c.send(ctx, proto.InboundTypeIdentify, proto.IdentifyData{Token: c.cfg.Token}); err != nil {
		return err
	}
	for {
		var out struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, c.conn, &out); err != nil {
			return fmt.Errorf("identify: %w", err)
		}
		if out.Type == proto.OutboundTypeError && out.Error != nil {
			return fmt.Errorf("identify: %s: %s", out.Error.Code, out.Error.Msg)
		}
		if out.Event == proto.EventIdentified {
			var data proto.EventIdentifiedData
			if err := json.Unmarshal(out.Data, &data); err != nil {
				return fmt.Errorf("identify: %w", err)
			}
			c.selfID = data.UserID
			return nil
		}
	}
}

// History fetches the stored conversation with the peer over REST.
func (c *Client) History(ctx context.Context) ([]proto.Message, error) {
	endpoint := strings.TrimRight(c.cfg.ServerURL, "/") + "/api/messages/" + url.PathEscape(c.cfg.PeerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: unexpected status %d", resp.StatusCode)
	}

	var msgs []proto.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return msgs, nil
}

// Login exchanges credentials for a bearer token.
func Login(ctx context.Context, serverURL, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(serverURL, "/") + "/api/users/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("login: empty token")
	}
	return out.Token, nil
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		var out struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, c.conn, &out); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}
		c.handle(out.Type, out.Event, out.Data, out.Error)
	}
}

func (c *Client) handle(typ, event string, data json.RawMessage, protoErr *proto.Error) {
	if typ == proto.OutboundTypeError {
		if protoErr != nil {
			fmt.Fprintf(c.out, "! %s: %s\n", protoErr.Code, protoErr.Msg)
		}
		return
	}

	switch event {
	case proto.EventMessageDelivered, proto.EventMessageSent:
		var m proto.Message
		if err := json.Unmarshal(data, &m); err != nil {
			c.log.Warn().Err(err).Msg("decode message")
			return
		}
		c.printMessage(m)
	case proto.EventPresenceChanged:
		var p proto.EventPresenceChangedData
		if err := json.Unmarshal(data, &p); err != nil {
			c.log.Warn().Err(err).Msg("decode presence")
			return
		}
		if p.UserID == c.cfg.PeerID {
			fmt.Fprintf(c.out, "* peer is %s\n", p.Status)
		}
	default:
		c.log.Debug().Str("event", event).Msg("ignored event")
	}
}

// printMessage prints m once. Messages from other conversations are skipped.
func (c *Client) printMessage(m proto.Message) {
	if c.selfID != "" {
		inConversation := (m.Sender.ID == c.selfID && m.Receiver.ID == c.cfg.PeerID) ||
			(m.Sender.ID == c.cfg.PeerID && m.Receiver.ID == c.selfID)
		if !inConversation {
			return
		}
	}
	if c.dedup.Seen(m) {
		return
	}
	fmt.Fprintln(c.out, FormatMessage(m))
}

// FormatMessage renders one message as a single terminal line.
func FormatMessage(m proto.Message) string {
	body := m.Content
	if m.FileURL != nil {
		name := *m.FileURL
		if m.FileName != nil {
			name = *m.FileName
		}
		body = strings.TrimSpace(fmt.Sprintf("[%s %s] %s", m.MessageType, name, m.Content))
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04"), m.Sender.Username, body)
}

func (c *Client) writeLoop(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			err := c.send(ctx, proto.InboundTypeSend, proto.SendData{
				ReceiverID: c.cfg.PeerID,
				Content:    text,
				ClientID:   utils.NewID(),
			})
			if err != nil {
				c.log.Error().Err(err).Msg("send")
				return
			}
		}
	}
}

func (c *Client) send(ctx context.Context, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, c.conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	return nil
}

func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
