package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kerfworks/kerf/config"
	"github.com/kerfworks/kerf/controller"
	"github.com/kerfworks/kerf/eventbus"
	"github.com/kerfworks/kerf/postproc"
	"github.com/kerfworks/kerf/project"
	"github.com/kerfworks/kerf/shell"
)

var (
	GitVersion string
)

const (
	GracefulShutdownTimeout = 20 * time.Second
)

//go:embed kerf.txt
var kerfbanner string

func main() {
	fmt.Println(kerfbanner)
	fmt.Println(GitVersion)

	cfg := config.DefaultConfig()
	if err := cfg.Load(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("%s", i)
	}
	output.FormatFieldName = func(i interface{}) string {
		return fmt.Sprintf("%s:", i)
	}

	level := zerolog.InfoLevel
	if cfg.GetBool(config.ConfigDebug) {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	log.Logger = logger
	logger.Debug().Msg("Debug logging is on")
	log.Info().Msgf("Loaded config: %v", cfg.SanitizedSettings())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	link := controller.NewSerialLink(cfg.GetInt(config.ConfigBaudRate), cfg.GetDuration(config.ConfigReadTimeout))
	post := postproc.New(cfg.PostConfig())
	ctl := controller.New(link, post, cfg.ControllerConfig())
	proj := project.New(cfg.JobParams())

	bus := eventbus.New()
	ctl.Subscribe(bus.ControllerListener())
	proj.Subscribe(bus.JobListener())

	if url := cfg.GetString(config.ConfigNatsURL); url != "" {
		pub, err := eventbus.ConnectNATS(url, cfg.GetString(config.ConfigNatsSubject))
		if err != nil {
			log.Err(err).Msg("nats-unavailable")
		} else {
			bus.Subscribe(pub.Handle)
			defer func() {
				if err := pub.Close(); err != nil {
					log.Err(err).Msg("nats-drain")
				}
			}()
		}
	}

	sc, err := shell.NewShellController(ctx, cfg, ctl, proj, post, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("could not start console")
	}
	bus.Subscribe(sc.Notify)

	idleConnsClosed := make(chan struct{})
	sig := make(chan os.Signal, 1)
	go func() {
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info().Msg("got quit signal...")
		cancel()
		close(idleConnsClosed)
	}()

	argsLine := strings.TrimSpace(strings.Join(cfg.Args(), " "))
	if argsLine == "" {
		go sc.Loop(sig)
	} else {
		r, err := sc.Execute(argsLine)
		if err != nil {
			log.Err(err).Str("line", argsLine).Msg("command-failed")
		} else if r != nil {
			fmt.Println(r)
		}
		sig <- syscall.SIGINT
	}

	log.Info().Msg("started loop")

	<-idleConnsClosed

	sc.Cleanup(GracefulShutdownTimeout)
	log.Info().Msg("shutting down")
}
