package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/tvgate/bus"
	"github.com/luma/tvgate/directory"
	"github.com/luma/tvgate/internal/env"
	"github.com/luma/tvgate/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for client devices on
	port int

	// Optional seed file for the in-memory user directory
	usersFile string
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 5999, "The port to listen for client device connections on")
	flags.StringVar(&httpPort, "http-port", "5998", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.StringVar(&usersFile, "users", "", "Path to a JSON users file for the in-memory directory")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the tvgate inner TCP server",
	Long: `Start up the tvgate inner TCP server

Usage
	tvgate start

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		log, err := env.MakeLogger()
		if err != nil {
			return err
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		dir := directory.NewInmemoryDirectory()
		if usersFile != "" {
			if err := directory.SeedFromFile(dir, usersFile); err != nil {
				return err
			}
		}

		var (
			externalBus *bus.RedisBus
			bridge      *bus.Bridge
			state       transport.StatePublisher
		)

		if conf.RedisURL != "" {
			externalBus, err = bus.NewRedisBus(ctx, bus.RedisOptions{
				URL: conf.RedisURL,
				Log: log.Named("bus"),
			})
			if err != nil {
				// A dead bus is fatal; supervision restarts us.
				return err
			}

			state = externalBus
		}

		server := transport.NewServer(transport.Options{
			Host:          host,
			Port:          port,
			PingInterval:  conf.PingTimeoutClients,
			CacheInterval: conf.RereadCacheTimeout,
			BandwidthHost: conf.BandwidthHost,
			Directory:     dir,
			State:         state,
			Log:           log.Named("transport"),
		})

		if err := server.Start(ctx); err != nil {
			return err
		}

		if externalBus != nil {
			bridge = bus.NewBridge(externalBus, server, log.Named("bridge"))
			bridge.Start(ctx)
		}

		router := setupRouter(conf.DebugHTTP, log)

		// Ping test
		router.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		router.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, server.Stats())
		})

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("host", host),
			zap.Int("port", port),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := server.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		if bridge != nil {
			bridge.Wait()
		}

		if externalBus != nil {
			if err := externalBus.Close(); err != nil {
				log.Error("Bus did not close cleanly", zap.Error(err))
			}
		}

		log.Info("Exiting")
		return nil
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.Ginzap(log, time.RFC3339, true))

	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
