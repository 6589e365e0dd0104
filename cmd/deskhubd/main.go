package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/gfurtadoalmeida/deskhub/internal/config"
	"github.com/gfurtadoalmeida/deskhub/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.deskhub/config.toml)")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if err := config.Save(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "error: write default config: %v\n", err)
			os.Exit(1)
		}
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config %s: %v\n", path, err)
		os.Exit(1)
	}

	if cfg.JWTSecret == "" {
		fmt.Fprintf(os.Stderr, "error: jwt_secret must be set in %s\n", path)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
	)

	app.Run()
}
