package main

import (
	"context"
	"crypto/tls"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/omochice/toy-irc-bot/internal/config"
	"github.com/omochice/toy-irc-bot/internal/session"
	"github.com/omochice/toy-irc-bot/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	server := flag.String("server", "", "Server host (overrides config)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	nick := flag.String("nick", "", "Nickname (overrides config)")
	channels := flag.StringSlice("channel", nil, "Channel to join, repeatable (overrides config)")
	useTLS := flag.Bool("tls", false, "Connect over TLS")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !*verbose {
		logger = logger.Level(zerolog.InfoLevel)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *server != "" {
		cfg.Server = *server
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *nick != "" {
		cfg.Nick = *nick
	}
	if len(*channels) > 0 {
		cfg.Channels = *channels
	}
	if *useTLS {
		cfg.UseTLS = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	s := session.New(cfg, buildDialer(cfg), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Drain the message history for observability; protocol reactions
	// already happened inside the session.
	go func() {
		for msg := range s.Messages() {
			logger.Info().
				Str("prefix", msg.Prefix).
				Str("command", msg.Command).
				Strs("args", msg.Args).
				Msg("message")
		}
	}()

	logger.Info().Str("server", cfg.Server).Int("port", cfg.Port).Str("nick", cfg.Nick).Msg("starting")

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("connection lost")
		os.Exit(1)
	}
	logger.Info().Msg("disconnected")
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildDialer selects the transport the configuration asks for.
func buildDialer(cfg config.Config) transport.Dialer {
	var tlsConfig *tls.Config
	if cfg.UseTLS {
		tlsConfig = &tls.Config{}
	}
	if cfg.Transport == config.TransportWebSocket {
		return &transport.WebSocketDialer{TLSConfig: tlsConfig}
	}
	return &transport.TCPDialer{TLSConfig: tlsConfig}
}
