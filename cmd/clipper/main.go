package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jscyril/golang_clip_player/api"
	"github.com/jscyril/golang_clip_player/internal/audio"
	"github.com/jscyril/golang_clip_player/internal/config"
	"github.com/jscyril/golang_clip_player/internal/decode"
	"github.com/jscyril/golang_clip_player/internal/export"
	"github.com/jscyril/golang_clip_player/internal/ffmpeg"
	"github.com/jscyril/golang_clip_player/internal/media"
	"github.com/jscyril/golang_clip_player/internal/player"
	"github.com/jscyril/golang_clip_player/internal/testsrc"
	"github.com/jscyril/golang_clip_player/internal/ui"
	"github.com/jscyril/golang_clip_player/pkg/events"
)

const demoPath = "testsrc://bars"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	demo := flag.Bool("demo", false, "play a generated test pattern instead of a file")
	envFile := flag.String("env", ".env", "environment file to load before the config")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [--demo] [--env file] [media file]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	path := flag.Arg(0)

	cfg, err := config.Load(*envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFile, err := openLog(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()
	level, _ := config.ParseLevel(cfg.LogLevel)
	log := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dev := audio.NewSpeakerDevice(cfg.SampleRate, time.Duration(cfg.SpeakerBufferMs)*time.Millisecond)
	sink, err := audio.NewSink(dev, log)
	if err != nil {
		return err
	}
	defer sink.Close()

	bus := events.NewEventBus()
	defer bus.Close()

	open := openFFmpeg
	if *demo {
		open = openDemo
		if path == "" {
			path = demoPath
		}
	}

	p := player.New(sink, open, player.Config{
		Tolerance:          cfg.Tolerance,
		VideoQueueFrames:   cfg.VideoQueueFrames,
		AudioQueueSeconds:  cfg.AudioQueueSeconds,
		VideoPacketBacklog: cfg.VideoPacketBacklog,
		AudioPacketBacklog: cfg.AudioPacketBacklog,
		Width:              cfg.OutputWidth,
		Height:             cfg.OutputHeight,
		Bus:                bus,
	}, log)
	defer p.Close()

	if err := p.SetGain(cfg.DefaultGain); err != nil {
		return err
	}
	if path != "" {
		if err := p.Open(path); err != nil {
			return err
		}
	}

	log.Info("clipper starting", "path", path, "demo", *demo, "config", config.GetConfigPath(), "sample_rate", cfg.SampleRate)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return ui.Run(ctx, p, ui.Options{
			Config: cfg,
			Events: bus.SubscribeAll(),
			Export: func(ctx context.Context, req api.ExportRequest) (*export.Report, error) {
				return export.Clip(ctx, req, log)
			},
			Browse: path == "",
		})
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return nil
	})
	return g.Wait()
}

func openLog(cfg *config.Config) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func openFFmpeg(path string, out media.OutputFormat) (decode.Backend, error) {
	b, err := ffmpeg.Open(path, out)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func openDemo(_ string, out media.OutputFormat) (decode.Backend, error) {
	opts := testsrc.DefaultOptions()
	opts.Duration = 60
	opts.Width, opts.Height = 320, 180
	opts.Output = out
	src, err := testsrc.Open(opts)
	if err != nil {
		return nil, err
	}
	return src, nil
}
