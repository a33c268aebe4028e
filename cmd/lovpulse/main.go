package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/lovpulse"
	"github.com/tokmz/lovpulse/pkg/logger"
)

func main() {
	configFile := flag.String("config", "", "config file path (default: ./lovpulse.yaml or ./configs/lovpulse.yaml)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintln(os.Stderr, "lovpulse:", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	var current atomic.Pointer[lovpulse.Engine]
	cfg, loader, err := lovpulse.LoadConfig(configFile, func(c *lovpulse.Config) {
		if e := current.Load(); e != nil {
			e.Reload(c)
		}
	})
	if err != nil {
		return err
	}
	defer loader.Close()

	log, err := logger.New(cfg.Log.LoggerConfig(cfg.Mode == gin.DebugMode))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	if file := loader.File(); file != "" {
		log.Info("config loaded", zap.String("file", file))
	}

	ctx := context.Background()
	engine, err := lovpulse.Bootstrap(ctx, cfg, log)
	if err != nil {
		log.Error("bootstrap failed", zap.Error(err))
		return err
	}
	current.Store(engine)
	return engine.Run(ctx)
}
