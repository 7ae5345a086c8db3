// Command chat is a terminal client for the relay: it logs in, exchanges
// encrypted messages, and can place or answer voice calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ashishkr710/Encrypted-Chat/internal/call"
	"github.com/ashishkr710/Encrypted-Chat/internal/channel"
	"github.com/ashishkr710/Encrypted-Chat/internal/config"
	"github.com/ashishkr710/Encrypted-Chat/internal/logging"
	"github.com/ashishkr710/Encrypted-Chat/internal/messages"
	"github.com/ashishkr710/Encrypted-Chat/internal/session"
	"github.com/ashishkr710/Encrypted-Chat/internal/validate"
	"github.com/ashishkr710/Encrypted-Chat/internal/wire"
)

type chatConfig struct {
	configPath  string
	server      string
	name        string
	key         string
	role        string
	message     string
	timeout     time.Duration
	saveSession bool
	loadSession bool
}

func main() {
	cfg := parseFlags()
	if err := run(cfg); err != nil {
		log.Fatalf("chat failed: %v", err)
	}
}

func parseFlags() chatConfig {
	var cfg chatConfig
	flag.StringVar(&cfg.configPath, "config", "", "Path to YAML/JSON config file (optional)")
	flag.StringVar(&cfg.server, "server", "", "Relay base URL (overrides config)")
	flag.StringVar(&cfg.name, "name", "", "Display name to log in with")
	flag.StringVar(&cfg.key, "key", "", "Secret key for end-to-end encryption (optional)")
	flag.StringVar(&cfg.role, "role", "listen", "Role for this client (send|listen|call)")
	flag.StringVar(&cfg.message, "message", "", "Message to send when role is send")
	flag.DurationVar(&cfg.timeout, "timeout", 60*time.Second, "How long to stay online")
	flag.BoolVar(&cfg.saveSession, "save-session", false, "Persist the encrypted session file on exit")
	flag.BoolVar(&cfg.loadSession, "load-session", false, "Restore identity from the encrypted session file")
	flag.Parse()

	switch cfg.role {
	case "send", "listen", "call":
	default:
		log.Fatalf("unsupported role %s (expected send, listen or call)", cfg.role)
	}
	return cfg
}

func run(cfg chatConfig) error {
	appCfg, err := config.Load(cfg.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.server != "" {
		appCfg.Client.ServerURL = cfg.server
	}

	logger, err := logging.NewLogger(appCfg.LogLevel, "console")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	sess := session.New()
	var store *session.FileStore
	if cfg.saveSession || cfg.loadSession {
		pass, err := appCfg.SessionPassphrase()
		if err != nil {
			return err
		}
		store, err = session.NewFileStore(appCfg.Session.Path, pass)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
	}

	if cfg.loadSession {
		if err := store.Load(sess); err != nil {
			return fmt.Errorf("restore session: %w", err)
		}
		logger.Info("session restored", zap.String("user", sess.User()))
	} else {
		if errs := validate.DisplayName(cfg.name); len(errs) > 0 {
			return fmt.Errorf("invalid name: %s", strings.Join(errs, "; "))
		}
		if cfg.key != "" {
			if errs := validate.SecretKey(cfg.key); len(errs) > 0 {
				return fmt.Errorf("invalid key: %s", strings.Join(errs, "; "))
			}
		}
		sess.SetUser(strings.TrimSpace(cfg.name))
		sess.SetSecretKey(cfg.key)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	ch, err := channel.New(channel.Options{
		Log:               logger,
		Session:           sess,
		ServerURL:         appCfg.Client.ServerURL,
		ReconnectAttempts: appCfg.Client.ReconnectAttempts,
		ReconnectDelay:    appCfg.Client.ReconnectDelay,
		ConnectTimeout:    appCfg.Client.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("init channel: %w", err)
	}
	defer ch.Disconnect()

	status := make(chan channel.StatusUpdate, 8)
	ch.On(wire.EventConnectionStatus, func(data any) {
		if upd, ok := data.(channel.StatusUpdate); ok {
			select {
			case status <- upd:
			default:
			}
		}
	})

	handler, err := messages.NewHandler(logger, sess, ch)
	if err != nil {
		return fmt.Errorf("init messages: %w", err)
	}
	defer handler.Close()

	ch.Connect(ctx)
	waitForChannel(ctx, status)

	switch cfg.role {
	case "send":
		err = runSend(handler, cfg.message)
	case "listen":
		err = runListen(ctx, logger, handler, sess, ch, appCfg)
	case "call":
		err = runCall(ctx, logger, sess, ch, appCfg)
	}
	if err != nil {
		return err
	}

	if cfg.saveSession {
		if err := store.Save(sess); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		logger.Info("session saved", zap.String("path", appCfg.Session.Path))
	}
	return nil
}

// waitForChannel blocks until the channel reports a terminal status:
// connected or demo mode. Messages still work in demo mode through the HTTP
// fallback.
func waitForChannel(ctx context.Context, status chan channel.StatusUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd := <-status:
			switch upd.Status {
			case channel.StatusConnected, channel.StatusDemo:
				fmt.Printf("[%s] %s\n", upd.Status, upd.Message)
				return
			}
		}
	}
}

func runSend(handler *messages.Handler, text string) error {
	stored, err := handler.Send(text)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Printf("sent %s\n", stored.ID)
	// Give the writer a moment to flush before disconnecting.
	time.Sleep(200 * time.Millisecond)
	return nil
}

func runListen(ctx context.Context, logger *zap.Logger, handler *messages.Handler, sess *session.Session, ch *channel.Client, appCfg config.Config) error {
	handler.On(messages.EventAdded, func(data any) {
		msg, ok := data.(session.Message)
		if !ok || msg.IsOwn {
			return
		}
		text := handler.DecryptedText(msg)
		if handler.IsEncrypted(msg) {
			text = "[encrypted message, key required]"
		}
		fmt.Printf("%s: %s\n", msg.Sender, text)
	})

	mgr, err := call.NewManager(call.Options{
		Log:        logger,
		Session:    sess,
		Signaler:   ch,
		ICEServers: appCfg.WebRTC.ICEServers,
	})
	if err != nil {
		return fmt.Errorf("init calls: %w", err)
	}
	defer mgr.Close()

	// Answer incoming calls automatically.
	mgr.On(call.EventIncoming, func(data any) {
		caller, _ := data.(string)
		fmt.Printf("incoming call from %s, answering\n", caller)
		if err := mgr.AcceptCall(); err != nil {
			logger.Warn("accept call", zap.Error(err))
		}
	})
	mgr.On(call.EventDuration, func(data any) {
		if d, ok := data.(string); ok {
			fmt.Printf("\rin call %s", d)
		}
	})
	mgr.On(call.EventEnded, func(any) {
		fmt.Println("\ncall ended")
	})

	<-ctx.Done()
	return nil
}

func runCall(ctx context.Context, logger *zap.Logger, sess *session.Session, ch *channel.Client, appCfg config.Config) error {
	mgr, err := call.NewManager(call.Options{
		Log:        logger,
		Session:    sess,
		Signaler:   ch,
		ICEServers: appCfg.WebRTC.ICEServers,
	})
	if err != nil {
		return fmt.Errorf("init calls: %w", err)
	}
	defer mgr.Close()

	done := make(chan string, 1)
	mgr.On(call.EventStateChanged, func(data any) {
		if state, ok := data.(call.State); ok && state == call.Active {
			fmt.Printf("call answered by %s\n", mgr.Remote())
		}
	})
	mgr.On(call.EventDeclined, func(data any) {
		who, _ := data.(string)
		select {
		case done <- fmt.Sprintf("declined by %s", who):
		default:
		}
	})
	mgr.On(call.EventEnded, func(any) {
		select {
		case done <- "ended":
		default:
		}
	})
	mgr.On(call.EventDuration, func(data any) {
		if d, ok := data.(string); ok {
			fmt.Printf("\rin call %s", d)
		}
	})

	if err := mgr.StartCall(); err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	fmt.Println("calling...")

	select {
	case <-ctx.Done():
		mgr.EndCall()
		fmt.Println("\nhanging up")
	case reason := <-done:
		fmt.Printf("\ncall %s\n", reason)
	}
	return nil
}
