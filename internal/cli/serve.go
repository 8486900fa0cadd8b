package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ankittk/taskflow/internal/config"
	"github.com/ankittk/taskflow/internal/httpapi"
	"github.com/ankittk/taskflow/internal/otel"
)

func newServeCmd() *cobra.Command {
	var (
		addr     string
		dev      bool
		dbDriver string
		dbURL    string
		apiKey   string
		noOtel   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Taskflow HTTP server in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			if apiKey == "" {
				apiKey = os.Getenv("TASKFLOW_API_KEY")
			}

			opts := httpapi.ServerOptions{
				Home:     home,
				Addr:     addr,
				Dev:      dev,
				APIKey:   apiKey,
				DBDriver: dbDriver,
				DBURL:    dbURL,
			}
			if !noOtel {
				if h, err := otel.InitMeterProvider(cmd.Context(), "taskflow"); err == nil {
					opts.MetricsHandler = h
					opts.UseOtelHTTP = true
				} else {
					slog.Warn("otel init failed, falling back to plain /metrics", "err", err)
				}
			}

			app, err := httpapi.NewApp(opts)
			if err != nil {
				return err
			}
			if !noOtel && opts.MetricsHandler != nil {
				st := app.Store
				_ = otel.InitMetricsWithTaskCount(cmd.Context(), func() map[string]int64 {
					counts, err := st.CountTasksByStatus(context.Background())
					if err != nil {
						return nil
					}
					return counts
				})
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- app.Server.ListenAndServe()
			}()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Taskflow listening on %s\n", addr)

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return app.Server.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7333", "Listen address")
	cmd.Flags().BoolVar(&dev, "dev", false, "Dev mode (CORS for a UI dev server)")
	cmd.Flags().StringVar(&dbDriver, "db", "sqlite", "Database driver: sqlite or postgres")
	cmd.Flags().StringVar(&dbURL, "db-url", "", "PostgreSQL connection string (or set DATABASE_URL)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Require this API key on requests (env: TASKFLOW_API_KEY)")
	cmd.Flags().BoolVar(&noOtel, "no-otel", false, "Disable OpenTelemetry metrics")
	return cmd
}
