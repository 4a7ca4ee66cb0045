package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/btlabs/rft"
)

var (
	logger *zap.SugaredLogger

	debug   = flag.Bool("debug", false, "Enable debug logging")
	timeout = flag.Duration("timeout", 0, "Bound the retransmission loop at the CLI boundary (0 = unbounded)")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) < 3 {
		_, _ = fmt.Fprintf(os.Stderr, `usage: %s serverHost serverPort fileName

   serverHost: host the server is listening on
   serverPort: port the server is listening on
   fileName:   remote file to request; written to ./received.data

`, os.Args[0])
		os.Exit(1)
	}

	serverHost := args[0]
	serverPort := args[1]
	fileName := args[2]

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
	logger = plainLogger.Sugar()

	logger.Infof("resolving %s:%s", serverHost, serverPort)
	portNum, err := strconv.Atoi(serverPort)
	if err != nil {
		fatal(fmt.Errorf("invalid server port %q: %w", serverPort, err))
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(serverHost, strconv.Itoa(portNum)))
	if err != nil {
		fatal(fmt.Errorf("could not resolve %s:%s: %w", serverHost, serverPort, err))
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	conn, err := rft.NewClient(rft.Config{
		Logger:      logger,
		SetupLogger: zapr.NewLogger(plainLogger),
	})
	if err != nil {
		fatal(fmt.Errorf("failed to open local socket: %w", err))
	}

	logger.Infof("connecting to %s", raddr)
	start := time.Now()
	if err := conn.Connect(ctx, raddr); err != nil {
		fatal(fmt.Errorf("connect failed: %w", err))
	}

	logger.Infof("requesting %q", fileName)
	if err := conn.SendRequest(fileName); err != nil {
		fatal(fmt.Errorf("send_request failed: %w", err))
	}

	const outPath = "received.data"
	if err := conn.RecvFile(ctx, outPath); err != nil {
		fatal(fmt.Errorf("recv_file failed: %w", err))
	}
	logger.Infof("received %q in %s", fileName, time.Since(start))

	if err := conn.WaitAndClose(ctx); err != nil {
		fatal(fmt.Errorf("wait_and_close failed: %w", err))
	}
	logger.Infof("connection closed cleanly")
}

// fatal logs err and exits with the code its failure class calls for
// (spec.md §6), grounded on the source's ERROR(err, shouldExit) macro in
// rdt_error.h.
func fatal(err error) {
	logger.Errorf("%v", err)
	os.Exit(rft.ExitCode(err))
}
