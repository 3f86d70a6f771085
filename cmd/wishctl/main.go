// Command wishctl is a device client for the wishlist sync server.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/docopt/docopt-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vyrodovalexey/wishlist-sync/internal/client"
	"github.com/vyrodovalexey/wishlist-sync/internal/config"
	"github.com/vyrodovalexey/wishlist-sync/internal/reservation"
	"github.com/vyrodovalexey/wishlist-sync/internal/store/remote"
)

// Version is the wishctl release.
const Version = "1.0.0"

const usage = `Wishlist device client.

Settings come from WISH_* environment variables (see WISH_SERVER_URL,
WISH_PREFS_PATH, WISH_SHARE_DOMAIN) and may be overridden per call.
open takes a share link or a plain list id.

Usage:
    wishctl [options] whoami
    wishctl [options] setname <name>
    wishctl [options] home [--watch]
    wishctl [options] lists create <title>
    wishctl [options] lists rename <list_id> <title>
    wishctl [options] lists delete <list_id>
    wishctl [options] items <list_id> [--watch]
    wishctl [options] items add <list_id> <name> [--link=<url>]
    wishctl [options] items edit <item_id> <name> [--link=<url>]
    wishctl [options] items delete <item_id>
    wishctl [options] share <list_id>
    wishctl [options] open <link>
    wishctl [options] toggle <item_id>
    wishctl [options] unfollow <list_id>
    wishctl -h | --help
    wishctl --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --server=<url>       Server base URL.
    --prefs=<path>       Local database file.
    --mode=<mode>        Reservation write mode: conditional or last-write-wins.
    --link=<url>         Product link of an item.
    --watch              Keep printing updates until interrupted.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, opts, os.Stdout)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts docopt.Opts, out io.Writer) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if err := applyOverrides(cfg, opts); err != nil {
		return err
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	mode, err := reservation.ParseMode(string(cfg.ReservationMode))
	if err != nil {
		return err
	}

	docs, err := remote.New(cfg.ServerURL, logger.Named("remote"),
		remote.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
	)
	if err != nil {
		return err
	}
	defer docs.Close()

	if dir := filepath.Dir(cfg.PrefsPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create prefs directory: %w", err)
		}
	}

	var failures writeFailures
	c, err := client.New(ctx, docs, client.Options{
		PrefsDSN:        cfg.PrefsPath,
		ShareDomain:     cfg.ShareDomain,
		ReservationMode: mode,
		WriteTimeout:    cfg.WriteTimeout,
		OnWriteError:    failures.record,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	cmd := &commands{client: c, out: out, timeout: cfg.RequestTimeout}
	if err := cmd.execute(ctx, opts); err != nil {
		return err
	}

	if err := c.Flush(ctx); err != nil {
		return err
	}
	return failures.err()
}

func applyOverrides(cfg *config.ClientConfig, opts docopt.Opts) error {
	if v, _ := opts.String("--server"); v != "" {
		cfg.ServerURL = v
	}
	if v, _ := opts.String("--prefs"); v != "" {
		cfg.PrefsPath = v
	}
	if v, _ := opts.String("--mode"); v != "" {
		cfg.ReservationMode = reservation.Mode(v)
	}
	return cfg.Validate()
}

// initLogger builds a console logger on stderr so stdout stays parseable.
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.WarnLevel
	}

	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	zapConfig.Development = false
	zapConfig.DisableStacktrace = true
	zapConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	return zapConfig.Build()
}
