package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	"github.com/wifiwatch/go-wifiwatch/api"
	"github.com/wifiwatch/go-wifiwatch/events"
	"github.com/wifiwatch/go-wifiwatch/internal/config"
	"github.com/wifiwatch/go-wifiwatch/session"
	"github.com/wifiwatch/go-wifiwatch/tokenstore"
	"github.com/wifiwatch/go-wifiwatch/transport"
	"github.com/wifiwatch/go-wifiwatch/views"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running observer: %s\n", err)
		os.Exit(1)
	}
	fmt.Println("Observer stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	displayAppname("wifiwatch")

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	c := config.New()

	store, err := tokenstore.NewStore(c, log)
	if err != nil {
		return fmt.Errorf("tokenstore.NewStore: %w", err)
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: c.GetHTTPTimeout()}

	mgr, err := session.NewManager(c.GetBaseURL(), store,
		session.WithHTTPClient(httpClient),
		session.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("session.NewManager: %w", err)
	}
	mgr.OnExpired(func() {
		log.Warn().Msg("session expired, log in again to resume")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !mgr.Authenticated() {
		if _, err := mgr.Login(ctx, c.GetUsername(), c.GetPassword()); err != nil {
			return fmt.Errorf("session.Login: %w", err)
		}
		log.Info().Msg("logged in")
	} else {
		log.Info().Msg("resumed persisted session")
	}

	dispatcher, err := transport.NewDispatcher(c.GetBaseURL(), mgr, transport.WithLogger(log))
	if err != nil {
		return fmt.Errorf("transport.NewDispatcher: %w", err)
	}

	client, err := api.NewClient(dispatcher)
	if err != nil {
		return fmt.Errorf("api.NewClient: %w", err)
	}

	channel, err := events.NewChannel(c.GetEventURL(),
		events.WithReconnectDelay(c.GetReconnectDelay()),
		events.WithAuthorizer(mgr),
		events.WithChannelLogger(log),
	)
	if err != nil {
		return fmt.Errorf("events.NewChannel: %w", err)
	}
	channel.OnStateChange(func(s events.State) {
		log.Info().Str("state", s.String()).Msg("event channel")
	})

	dashboard, err := views.NewDashboardView(client, views.WithLogger(log))
	if err != nil {
		return fmt.Errorf("views.NewDashboardView: %w", err)
	}
	dashboard.OnChange(func() {
		if stats, ok := dashboard.Stats(); ok {
			log.Info().
				Int("devices_online", stats.Devices.Online).
				Int("devices_total", stats.Devices.Total).
				Int("alerts_unacknowledged", stats.Alerts.Unacknowledged).
				Msg("dashboard updated")
		}
	})
	defer dashboard.Bind(ctx, channel)()

	alerts, err := views.NewAlertsView(client, views.WithLogger(log))
	if err != nil {
		return fmt.Errorf("views.NewAlertsView: %w", err)
	}
	alerts.OnChange(func() {
		log.Info().Int("unacknowledged", alerts.Unacknowledged()).Msg("alerts updated")
	})
	defer alerts.Bind(ctx, channel)()

	go channel.Run(ctx)

	if err := dashboard.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial dashboard fetch failed")
	}
	if err := alerts.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial alert fetch failed")
	}

	waitForStopSignal()

	// The persisted session is kept so the next run resumes without a login.
	cancel()
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
