// homewatch: home network health and severe-weather proximity monitor.
// Author: vesaa | License: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"github.com/vesaa/homewatch/internal/config"
	"github.com/vesaa/homewatch/internal/devices"
	"github.com/vesaa/homewatch/internal/hoststat"
	"github.com/vesaa/homewatch/internal/logger"
	"github.com/vesaa/homewatch/internal/metrics"
	"github.com/vesaa/homewatch/internal/prober"
	"github.com/vesaa/homewatch/internal/proximity"
	"github.com/vesaa/homewatch/internal/scheduler"
	"github.com/vesaa/homewatch/internal/server"
	"github.com/vesaa/homewatch/internal/store"
	"github.com/vesaa/homewatch/internal/weather"
	"gorm.io/gorm"
)

const version = "v0.1.0"

// app is everything a subcommand needs, built once from config.
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	ledger    *store.AlertLedger
	samples   *store.SampleStore
	devices   devices.Source
	prober    *prober.Prober
	evaluator *proximity.Evaluator
}

func bootstrap(cmd *cobra.Command) (*app, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var (
		cfg *config.Config
		err error
	)
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, err
	}

	db, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		_ = store.Close(db)
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		ledger:  store.NewAlertLedger(db),
		samples: store.NewSampleStore(db),
		devices: devices.NewFileSource(cfg.DevicesPath),
	}
	a.prober = prober.New(a.devices, a.ledger, a.samples,
		prober.ICMPPinger{Privileged: cfg.PingPrivileged},
		prober.NetChecker{},
		prober.Options{
			PingTimeout:      cfg.PingTimeout(),
			TCPTimeout:       cfg.TCPTimeout(),
			HTTPTimeout:      cfg.HTTPTimeout(),
			Concurrency:      cfg.ProbeConcurrency,
			ServiceAlerts:    cfg.ServiceAlerts,
			HistoryRetention: time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour,
		})

	wx := weather.NewClient(weather.Options{
		BaseURL:   cfg.WeatherBaseURL,
		UserAgent: cfg.WeatherUserAgent,
		AlertsTTL: time.Duration(cfg.WeatherAlertsTTL) * time.Second,
		Cache:     weather.NewCache(cfg.WeatherCacheDir),
	})
	home := orb.Point{cfg.Location.Lon, cfg.Location.Lat}
	a.evaluator = proximity.New(wx, a.ledger, home, cfg.ProximityThresholdMiles)
	return a, nil
}

func (a *app) close() {
	if err := store.Close(a.db); err != nil {
		logger.Warnf("[db] close: %v", err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the probing and proximity loops plus the read-only API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			cfg := a.cfg

			auth, err := server.NewAuth(cfg.JWTSecret, cfg.AdminUser, cfg.AdminPass)
			if err != nil {
				return err
			}
			srv := server.New(a.ledger, a.samples, a.devices, hoststat.NewCollector(500*time.Millisecond), auth)

			gin.SetMode(gin.ReleaseMode)
			addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
			httpSrv := &http.Server{Addr: addr, Handler: srv.Engine(), ReadHeaderTimeout: 10 * time.Second}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := scheduler.New(cfg.RunOnStart,
				scheduler.Job{
					Name:     metrics.LoopProbe,
					Interval: cfg.ProbeEvery(),
					Run: func(ctx context.Context) error {
						_, err := a.prober.RunOnce(ctx)
						return err
					},
				},
				scheduler.Job{
					Name:     metrics.LoopProximity,
					Interval: cfg.ProximityEvery(),
					Run: func(ctx context.Context) error {
						_, err := a.evaluator.Sync(ctx)
						return err
					},
				},
			)
			sched.Start(ctx)

			logger.Infof("homewatch %s: API on http://%s, devices from %s, home %.4f,%.4f",
				version, addr, cfg.DevicesPath, cfg.Location.Lat, cfg.Location.Lon)
			if cfg.AdminPass == "admin" {
				logger.Warnf("admin_pass is the default; set HOMEWATCH_ADMIN_PASS")
			}

			errCh := make(chan error, 1)
			go func() { errCh <- httpSrv.ListenAndServe() }()

			select {
			case err := <-errCh:
				stop()
				sched.Wait()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				logger.Infof("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
				sched.Wait()
				return nil
			}
		},
	}
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run a single probing cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			run, err := a.prober.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Probe complete. Devices UP=%d DOWN=%d  Services UP=%d DOWN=%d\n",
				run.Up, run.Down, run.ServicesUp, run.ServicesDown)
			return nil
		},
	}
}

func stormCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "storm",
		Short: "Run a single storm proximity sync and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.evaluator.Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Storm proximity sync complete. New proximity alerts: %d\n", n)
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:   "homewatch",
		Short: "homewatch: home network and storm proximity monitor",
		Long: `homewatch pings the devices listed in devices.json, checks their services,
watches National Weather Service hazard polygons near home, and keeps a
deduplicated alert ledger for the dashboard to read.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file (default ./config.yaml or ~/.homewatch/config.yaml)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print homewatch version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("homewatch %s\n", version)
		},
	}

	root.AddCommand(serveCmd(), probeCmd(), stormCmd(), versionCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
