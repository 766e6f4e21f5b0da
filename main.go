package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/urfave/cli/v3"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/forward-long-jumps/discotron/owner"
	"github.com/forward-long-jumps/discotron/store"
)

var app = cli.Command{
	Name:  "discotron",
	Usage: "Discord bot with per-guild plugin routing",

	Flags: []cli.Flag{
		&flagConfig,
		&flagLog,
		&flagLogFormat,
	},
	Commands: []*cli.Command{
		{
			Name:   "init",
			Usage:  "Create the database schema",
			Action: cliInit,
		},
		{
			Name:      "owners",
			Usage:     "Replace the owner set",
			ArgsUsage: "user-id [user-id ...]",
			Action:    cliOwners,
		},
	},
	Action: cliRun,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := app.Run(ctx, os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	token, err := loadToken(cfg.SecretFile)
	if err != nil {
		return err
	}
	guilddb, ownerdb, err := loadDBs(ctx, cfg.DB)
	if err != nil {
		return err
	}
	bot, err := New(ctx, cfg, guilddb, ownerdb)
	if err != nil {
		return err
	}
	if err := bot.Connect(ctx, token); err != nil {
		return err
	}
	return bot.Run(ctx, cfg.HTTP.Listen)
}

func cliInit(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	guilddb, ownerdb, err := loadDBs(ctx, cfg.DB)
	if err != nil {
		return err
	}
	if err := store.Init(ctx, guilddb); err != nil {
		return fmt.Errorf("couldn't create guild schema: %w", err)
	}
	if err := owner.Init(ctx, ownerdb); err != nil {
		return fmt.Errorf("couldn't create owner schema: %w", err)
	}
	return nil
}

func cliOwners(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		return errors.New("owners: need at least one user ID; an empty set is never written")
	}
	_, ownerdb, err := loadDBs(ctx, cfg.DB)
	if err != nil {
		return err
	}
	reg, err := owner.Open(ctx, ownerdb)
	if err != nil {
		return err
	}
	if err := reg.Set(ctx, ids); err != nil {
		return fmt.Errorf("couldn't set owners: %w", err)
	}
	slog.InfoContext(ctx, "owners replaced", slog.Int("count", len(ids)))
	return nil
}

func loadConfig(cmd *cli.Command) (*Config, error) {
	r, err := os.Open(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("couldn't open config file: %w", err)
	}
	defer r.Close()
	cfg, err := Load(r)
	if err != nil {
		return nil, fmt.Errorf("couldn't load config: %w", err)
	}
	return cfg, nil
}

func loadDBs(ctx context.Context, cfg DBCfg) (guilddb, ownerdb *sqlitex.Pool, err error) {
	if cfg.Store == "" {
		return nil, nil, errors.New("no store database configured")
	}
	slog.DebugContext(ctx, "guild store db", slog.String("path", cfg.Store))
	guilddb, err = sqlitex.NewPool(cfg.Store, sqlitex.PoolOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open store db: %w", err)
	}
	switch cfg.Owners {
	case "", cfg.Store:
		slog.DebugContext(ctx, "owner db shared with guild store")
		ownerdb = guilddb
	default:
		slog.DebugContext(ctx, "owner db", slog.String("path", cfg.Owners))
		ownerdb, err = sqlitex.NewPool(cfg.Owners, sqlitex.PoolOptions{})
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't open owner db: %w", err)
		}
	}
	return guilddb, ownerdb, nil
}

var (
	flagConfig = cli.StringFlag{
		Name:       "config",
		Required:   true,
		Usage:      "TOML config file",
		Persistent: true,
		Action: func(ctx context.Context, cmd *cli.Command, s string) error {
			i, err := os.Stat(s)
			if err != nil {
				return err
			}
			if !i.Mode().IsRegular() {
				return errors.New("config must be a regular file")
			}
			return nil
		},
	}

	flagLog = cli.StringFlag{
		Name:       "log",
		Usage:      "Logging level, one of debug, info, warn, error",
		Value:      "info",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			var l slog.Level
			return l.UnmarshalText([]byte(s))
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:       "log-format",
		Usage:      "Logging format, either text or json",
		Value:      "text",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}
)

func loggerFromFlags(cmd *cli.Command) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cmd.String("log"))); err != nil {
		panic(err)
	}
	var h slog.Handler
	switch strings.ToLower(cmd.String("log-format")) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	case "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	}
	return slog.New(h)
}
