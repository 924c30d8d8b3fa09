// Command wsbus runs both ends of a JSON message bus over one WebSocket.
//
// Commands:
//  1. "resolve" – print the WebSocket URL derived from API_URL / PAGE_URL
//  2. "listen" – connect and print every inbound message
//  3. "send" – connect, send one message and disconnect
//  4. "serve" – run the relay with its REST API, optionally behind an ngrok tunnel
//  5. "mcp" – connect and expose the connection as an MCP stdio server
//  6. "profiles" – list the environment profiles in the config directory
//
// Settings come from flags, then environment (a .env file is loaded first),
// then the selected profile in the config directory, then built-in defaults.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/mcp-training/wsbus/api"
	"github.com/wricardo/mcp-training/wsbus/config"
	"github.com/wricardo/mcp-training/wsbus/logging"
	"github.com/wricardo/mcp-training/wsbus/message"
	"github.com/wricardo/mcp-training/wsbus/provider"
	"github.com/wricardo/mcp-training/wsbus/transport/mcp"
	"github.com/wricardo/mcp-training/wsbus/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "wsbus"
)

var errConnectionFailed = errors.New("connection failed")

func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("error loading .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

// newApp builds the command tree.
func newApp() *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "JSON message bus over a single WebSocket connection",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "base URL of the API; http maps to ws, https to wss, /ws is appended",
				Sources: cli.EnvVars("API_URL", "VITE_API_URL"),
			},
			&cli.StringFlag{
				Name:    "page-url",
				Usage:   "origin the client is served from, used when no API URL is set",
				Sources: cli.EnvVars("PAGE_URL"),
			},
			&cli.StringFlag{
				Name:    "profile",
				Usage:   "environment profile to load from the config directory",
				Sources: cli.EnvVars("WSBUS_PROFILE"),
			},
			&cli.StringFlag{
				Name:    "config-dir",
				Usage:   "directory containing environment profiles",
				Value:   "configs",
				Sources: cli.EnvVars("CONFIG_DIR"),
			},
			&cli.DurationFlag{
				Name:    "handshake-timeout",
				Usage:   "bound on the opening handshake (0 keeps the dialer default)",
				Sources: cli.EnvVars("HANDSHAKE_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "panic, fatal, error, warn, info, debug or trace",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "text or json",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "log-output",
				Usage:   "stderr, stdout or discard",
				Sources: cli.EnvVars("LOG_OUTPUT"),
			},
		},
		Commands: []*cli.Command{
			resolveCommand(),
			listenCommand(),
			sendCommand(),
			serveCommand(),
			mcpCommand(),
			profilesCommand(),
		},
	}
}

// loadConfig layers flags and environment over the selected profile.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg := config.Default()
	if name := cmd.String("profile"); name != "" {
		manager, err := config.NewManager(cmd.String("config-dir"))
		if err != nil {
			return config.Config{}, err
		}
		if cfg, err = manager.Resolve(name); err != nil {
			return config.Config{}, err
		}
	}

	cfg = cfg.Merge(config.Config{
		APIURL:           cmd.String("api-url"),
		PageURL:          cmd.String("page-url"),
		HandshakeTimeout: cmd.Duration("handshake-timeout"),
		LogOutput:        cmd.String("log-output"),
		LogLevel:         cmd.String("log-level"),
		LogFormat:        cmd.String("log-format"),
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setup(cmd *cli.Command) (config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.LogOutput, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// awaitOpen blocks until hub is open, has failed, or ctx ends.
func awaitOpen(ctx context.Context, hub *websocket.Hub) error {
	select {
	case <-hub.Opened():
		return nil
	case <-hub.Done():
		return fmt.Errorf("%w: %s", errConnectionFailed, hub.State())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "print the WebSocket URL the client would connect to",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			target, err := cfg.Endpoint()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.Root().Writer, target)
			return nil
		},
	}
}

func listenCommand() *cli.Command {
	return &cli.Command{
		Name:  "listen",
		Usage: "print every inbound message as a JSON line",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "exit after this many messages (0 means run until interrupted)",
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "print a one-line summary for known message types instead of JSON",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			limit := int(cmd.Int("count"))
			out := cmd.Root().Writer
			format := message.Message.String
			if cmd.Bool("summary") {
				registry := newRegistry()
				format = func(msg message.Message) string { return summarize(registry, msg) }
			}

			ctx, hub, teardown := provider.Mount(ctx, cfg, log)
			defer teardown()

			reached := make(chan struct{})
			var once sync.Once
			seen := 0
			_, unsubscribe := provider.Use(ctx, func(msg message.Message) error {
				if _, err := fmt.Fprintln(out, format(msg)); err != nil {
					return err
				}
				seen++
				if limit > 0 && seen >= limit {
					once.Do(func() { close(reached) })
				}
				return nil
			})
			defer unsubscribe()

			if err := awaitOpen(ctx, hub); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			select {
			case <-reached:
			case <-ctx.Done():
			case <-hub.Done():
				log.WithField("state", hub.State()).Info("connection ended")
			}
			return nil
		},
	}
}

// Payloads listen --summary understands.
type (
	pingPayload   struct{}
	noticePayload struct {
		Text string `json:"text"`
	}
	chatPayload struct {
		From string `json:"from"`
		Text string `json:"text"`
	}
)

func newRegistry() *message.Registry {
	r := message.NewRegistry()
	message.Register[pingPayload](r, "ping")
	message.Register[noticePayload](r, "notice")
	message.Register[chatPayload](r, "chat")
	return r
}

// summarize renders known types as one line and everything else as JSON.
func summarize(r *message.Registry, msg message.Message) string {
	if !r.Known(msg.Type()) {
		return msg.String()
	}
	payload, err := r.Resolve(msg)
	if err != nil {
		return fmt.Sprintf("%s (malformed: %v)", msg, err)
	}
	switch p := payload.(type) {
	case *pingPayload:
		return "ping"
	case *noticePayload:
		return "notice: " + p.Text
	case *chatPayload:
		return fmt.Sprintf("chat <%s> %s", p.From, p.Text)
	default:
		return msg.String()
	}
}

// buildMessage turns the type and raw JSON data flags into a message.
func buildMessage(typ, data string) (message.Message, error) {
	var payload any
	if data != "" {
		if !json.Valid([]byte(data)) {
			return message.Message{}, fmt.Errorf("--data is not valid JSON: %s", data)
		}
		payload = json.RawMessage(data)
	}
	return message.New(typ, payload)
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "connect, send one message and disconnect",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "type",
				Usage:    "message type",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "data",
				Usage: "message payload as a JSON document",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			msg, err := buildMessage(cmd.String("type"), cmd.String("data"))
			if err != nil {
				return err
			}
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			_, hub, teardown := provider.Mount(ctx, cfg, log)
			defer teardown()

			if err := awaitOpen(ctx, hub); err != nil {
				return err
			}
			hub.Send(msg)
			teardown()

			select {
			case <-hub.Done():
			case <-time.After(5 * time.Second):
				log.Warn("timed out waiting for the connection to close")
			}
			fmt.Fprintf(cmd.Root().Writer, "sent %s\n", msg)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the relay: WebSocket at /ws, REST API under /api",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address",
				Sources: cli.EnvVars("RELAY_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "ngrok",
				Usage:   "also serve through an ngrok tunnel",
				Sources: cli.EnvVars("NGROK_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "ngrok-authtoken",
				Usage:   "ngrok auth token",
				Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "ngrok-domain",
				Usage:   "custom ngrok domain (optional)",
				Sources: cli.EnvVars("NGROK_DOMAIN"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if addr := cmd.String("addr"); addr != "" {
				cfg.RelayAddr = addr
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			relay := websocket.NewRelay(log)
			go relay.Run(ctx)
			handler := api.NewServer(relay, log)

			httpServer := &http.Server{
				Addr:        cfg.RelayAddr,
				Handler:     handler,
				ReadTimeout: 15 * time.Second,
				IdleTimeout: 60 * time.Second,
			}

			var wg sync.WaitGroup
			serveErr := make(chan error, 1)

			wg.Add(1)
			go func() {
				defer wg.Done()
				log.WithField("addr", cfg.RelayAddr).Info("relay listening")
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					serveErr <- err
				}
			}()

			if cmd.Bool("ngrok") {
				wg.Add(1)
				go func() {
					defer wg.Done()
					runTunnel(ctx, log, cmd.String("ngrok-authtoken"), cmd.String("ngrok-domain"), handler)
				}()
			}

			var runErr error
			select {
			case <-ctx.Done():
				log.Info("shutting down")
			case runErr = <-serveErr:
				log.WithError(runErr).Error("HTTP server failed")
			}
			cancel()

			// Graceful shutdown with timeout
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("HTTP server shutdown error")
			}

			wg.Wait()
			log.Info("relay stopped")
			return runErr
		},
	}
}

// runTunnel serves handler through ngrok until ctx ends.
func runTunnel(ctx context.Context, log logrus.FieldLogger, authToken, domain string, handler http.Handler) {
	if authToken == "" {
		log.Warn("ngrok enabled but no auth token provided (use --ngrok-authtoken, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN)")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	log.Info("starting ngrok tunnel")
	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		log.WithError(err).Error("failed to start ngrok tunnel")
		return
	}
	context.AfterFunc(ctx, func() { tun.Close() })

	log.WithFields(logrus.Fields{
		"url":       tun.URL(),
		"websocket": tun.URL() + "/ws",
	}).Info("ngrok tunnel established")

	if err := http.Serve(tun, handler); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("ngrok server error")
	}
	log.Info("ngrok tunnel closed")
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "expose the connection as an MCP stdio server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "relay-url",
				Usage:   "relay HTTP base URL for the relay tools (optional)",
				Sources: cli.EnvVars("RELAY_URL"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol
			if cfg.LogOutput == "stdout" {
				logging.ApplyOutput(log, "stderr")
			}

			_, hub, teardown := provider.Mount(ctx, cfg, log)
			defer teardown()

			client := mcp.NewClient(hub, cmd.String("relay-url"))
			log.Info("MCP stdio server ready")
			return server.ServeStdio(client.GetMCPServer())
		},
	}
}

func profilesCommand() *cli.Command {
	return &cli.Command{
		Name:  "profiles",
		Usage: "list the environment profiles in the config directory",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			manager, err := config.NewManager(cmd.String("config-dir"))
			if err != nil {
				return err
			}
			infos, err := manager.List()
			if err != nil {
				return err
			}

			out := cmd.Root().Writer
			if len(infos) == 0 {
				fmt.Fprintln(out, "no profiles found")
				return nil
			}
			for _, info := range infos {
				fmt.Fprintf(out, "%-12s %-40s %s\n", info.Name, info.APIURL, info.Description)
			}
			return nil
		},
	}
}
