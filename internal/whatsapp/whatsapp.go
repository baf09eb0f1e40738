// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in AtendeBot.
//
// It provides methods for sending messages with simulated typing, resolving
// contact display names, and handling login/reconnect events.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cajulimao/atendebot/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for WhatsApp/whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/atendebot/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
	// DefaultTypingDelay is the pause used to emulate human pacing before a send
	DefaultTypingDelay = 1500 * time.Millisecond
	// ReconnectBackoff is the initial wait between reconnect attempts
	ReconnectBackoff = 5 * time.Second
	// MaxReconnectBackoff caps the reconnect wait
	MaxReconnectBackoff = 2 * time.Minute
)

// Sender is an interface for sending WhatsApp messages (for production and testing)
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendWithTyping(ctx context.Context, to string, body string) error
	ContactName(ctx context.Context, phone string) string
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string        // whatsmeow database connection string
	QRPath      string        // path to write login QR code
	NumericCode bool          // use numeric login code instead of QR code
	TypingDelay time.Duration // pause before sends to emulate human pacing
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithTypingDelay sets the simulated typing pause before each send.
func WithTypingDelay(d time.Duration) Option {
	return func(o *Opts) {
		o.TypingDelay = d
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient    *whatsmeow.Client
	typingDelay time.Duration
}

// NewClient creates a new WhatsApp client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{TypingDelay: DefaultTypingDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
	} else {
		dbDriver = "sqlite3"
		if !strings.Contains(dbDSN, "_foreign_keys") && !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
				"The whatsmeow library strongly recommends enabling foreign keys for data integrity.",
				"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	logger := waLog.Stdout("Database", "INFO", true)
	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, logger)
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	waClient := whatsmeow.NewClient(deviceStore, clientLog)
	client := &Client{waClient: waClient, typingDelay: cfg.TypingDelay}
	waClient.AddEventHandler(client.handleConnectionEvent)

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				slog.Error("Failed to create QR file", "error", ferr)
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("WhatsApp login event", "event", evt.Event)
			}
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return client, nil
}

// handleConnectionEvent reconnects after transient disconnects and clears the
// local session on a persistent authentication failure so the next start
// retries from a clean slate.
func (c *Client) handleConnectionEvent(evt interface{}) {
	switch evt.(type) {
	case *events.Disconnected:
		slog.Warn("WhatsApp connection lost, reconnecting")
		go c.reconnect()
	case *events.LoggedOut:
		slog.Error("WhatsApp session logged out; clearing local session artifacts")
		if err := c.waClient.Store.Delete(context.Background()); err != nil {
			slog.Error("Failed to clear WhatsApp session", "error", err)
		}
	}
}

// reconnect retries Connect with bounded backoff.
func (c *Client) reconnect() {
	backoff := ReconnectBackoff
	for {
		time.Sleep(backoff)
		if c.waClient.IsConnected() {
			return
		}
		if err := c.waClient.Connect(); err != nil {
			slog.Error("WhatsApp reconnect attempt failed", "error", err, "next_attempt_in", backoff)
			backoff *= 2
			if backoff > MaxReconnectBackoff {
				backoff = MaxReconnectBackoff
			}
			continue
		}
		slog.Info("WhatsApp reconnected")
		return
	}
}

// SendMessage sends a WhatsApp message to the specified recipient.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	jid := types.NewJID(to, JIDSuffix)
	msg := &waE2E.Message{Conversation: &body}

	_, err := c.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent", "to", to)
	return nil
}

// SendWithTyping shows a composing presence, pauses for the configured
// typing delay and then sends. The pause only blocks the calling goroutine.
func (c *Client) SendWithTyping(ctx context.Context, to string, body string) error {
	if c.typingDelay > 0 {
		jid := types.NewJID(to, JIDSuffix)
		if err := c.waClient.SendChatPresence(jid, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
			slog.Debug("Failed to send composing presence", "error", err, "to", to)
		}
		select {
		case <-time.After(c.typingDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.SendMessage(ctx, to, body)
}

// ContactName resolves the push name stored for a contact, or empty when unknown.
func (c *Client) ContactName(ctx context.Context, phone string) string {
	jid := types.NewJID(phone, JIDSuffix)
	info, err := c.waClient.Store.Contacts.GetContact(ctx, jid)
	if err != nil || !info.Found {
		return ""
	}
	if info.PushName != "" {
		return info.PushName
	}
	return info.FullName
}

// GetClient returns the underlying whatsmeow client for event handling
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// Disconnect closes the connection to WhatsApp.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// MockClient implements the Sender interface but does nothing (for tests).
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	return nil
}

func (m *MockClient) SendWithTyping(ctx context.Context, to string, body string) error {
	return nil
}

func (m *MockClient) ContactName(ctx context.Context, phone string) string {
	return ""
}
