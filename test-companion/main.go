// Command test-companion is a scripted player companion for exercising the
// bridge by hand. It answers every command the echo companion supports over
// stdin/stdout, or over TCP when started by a socket launcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/universe-player/bridge/log"
	"github.com/universe-player/bridge/x/bridge/bridgetest"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/command"
	"github.com/universe-player/bridge/x/companion"
)

func main() {
	var (
		addr       string
		codecName  string
		byteOrder  string
		legacy     bool
		delay      time.Duration
		statusTick time.Duration
		logLevel   string
		pretty     bool
	)
	flag.StringVar(&addr, "addr", os.Getenv(companion.AddrEnv), "host address to dial; stdin/stdout when empty")
	flag.StringVar(&codecName, "codec", "json", "wire codec (json, protobuf)")
	flag.StringVar(&byteOrder, "byte-order", "native", "frame length byte order")
	flag.BoolVar(&legacy, "legacy", false, "reply in the returnValue/confirmation shape")
	flag.DurationVar(&delay, "delay", 0, "delay every reply")
	flag.DurationVar(&statusTick, "status-every", 0, "push a playback update on this interval")
	flag.StringVar(&logLevel, "log-level", "info", "log level (trace,debug,info,...)")
	flag.BoolVar(&pretty, "log-pretty", false, "pretty console logs")
	flag.Parse()

	// Logs go to stderr; stdout may be the channel.
	logger := log.New(logLevel, pretty)
	l := logger.With().Str("component", "test-companion").Logger()

	cd, ok := codec.NewRegistry(codec.DefaultMaxMessageSize).Get(codecName)
	if !ok {
		l.Error().Str("codec", codecName).Msg("Unknown codec")
		os.Exit(2)
	}
	order, err := codec.ParseByteOrder(byteOrder)
	if err != nil {
		l.Error().Err(err).Msg("Invalid byte order")
		os.Exit(2)
	}

	opts := []bridgetest.Option{bridgetest.WithCodec(cd), bridgetest.WithLogger(l)}
	if legacy {
		opts = append(opts, bridgetest.WithLegacyReplies())
	}
	if delay > 0 {
		opts = append(opts, bridgetest.WithReplyDelay(func(command.Command) time.Duration { return delay }))
	}
	echo := bridgetest.NewEchoCompanion(opts...)
	framer := codec.NewFramer(codec.DefaultMaxMessageSize, order)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if statusTick > 0 {
		go pushStatus(ctx, echo, statusTick)
	}

	if addr == "" {
		l.Info().Msg("Serving on stdin/stdout")
		err = echo.Serve(os.Stdin, os.Stdout, framer)
	} else {
		err = serveTCP(ctx, echo, addr, framer)
	}
	if err != nil {
		l.Error().Err(err).Msg("Companion stopped")
		os.Exit(1)
	}
	l.Info().Int("commands", len(echo.Commands())).Bool("quit", echo.QuitReceived()).Msg("Host closed the channel")
}

func serveTCP(ctx context.Context, echo *bridgetest.EchoCompanion, addr string, framer *codec.Framer) error {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial host %s: %w", addr, err)
	}
	defer conn.Close()
	return echo.Serve(conn, conn, framer)
}

func pushStatus(ctx context.Context, echo *bridgetest.EchoCompanion, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = echo.PushUpdate(command.UpdatePlayback, echo.Playback())
		}
	}
}
