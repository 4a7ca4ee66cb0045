package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/btlabs/rft"
)

var (
	debug   = flag.Bool("debug", false, "Enable debug logging")
	timeout = flag.Duration("timeout", 0, "Bound the retransmission loop at the CLI boundary (0 = unbounded)")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		_, _ = fmt.Fprintf(os.Stderr, "usage: %s portNum\n\n   portNum: local UDP port to listen on\n\n", os.Args[0])
		os.Exit(1)
	}
	portNum := args[0]

	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level.SetLevel(zap.InfoLevel)
	if *debug {
		logConfig.Level.SetLevel(zap.DebugLevel)
	}
	logConfig.Encoding = "console"
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	plainLogger, err := logConfig.Build()
	if err != nil {
		panic(err)
	}
	logger := plainLogger.Sugar()

	conn, err := rft.Listen(":"+portNum, rft.Config{
		Logger:      logger,
		SetupLogger: zapr.NewLogger(plainLogger),
	})
	if err != nil {
		fatal(logger, fmt.Errorf("failed to bind :%s: %w", portNum, err))
	}
	logger.Infof("listening on %s", conn.LocalAddr())

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	// The listener's socket doubles as the connected peer's socket (no
	// multiplexing, per spec.md §2), so a single run serves exactly one
	// peer end to end, matching the one-shot send/recv CLI shape.
	logger.Infof("waiting for a peer")
	if err := conn.Accept(ctx); err != nil {
		fatal(logger, fmt.Errorf("accept: %w", err))
	}

	name, err := conn.RecvRequest(ctx)
	if err != nil {
		fatal(logger, fmt.Errorf("recv_request: %w", err))
	}
	logger.Infof("peer requested %q", name)

	if err := conn.SendFile(ctx, name); err != nil {
		fatal(logger, fmt.Errorf("send_file(%q): %w", name, err))
	}
	logger.Infof("sent %q", name)

	if err := conn.Close(ctx); err != nil {
		fatal(logger, fmt.Errorf("close: %w", err))
	}
	logger.Infof("connection closed cleanly")
}

// fatal logs err and exits with the code its failure class calls for
// (spec.md §6), grounded on the source's ERROR(err, shouldExit) macro in
// rdt_error.h.
func fatal(logger *zap.SugaredLogger, err error) {
	logger.Errorf("%v", err)
	os.Exit(rft.ExitCode(err))
}
