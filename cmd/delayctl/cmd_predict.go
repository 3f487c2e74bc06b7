package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danielpatrickdp/delay-risk/internal/api"
	"github.com/danielpatrickdp/delay-risk/internal/client"
	"github.com/danielpatrickdp/delay-risk/internal/config"
	"github.com/danielpatrickdp/delay-risk/internal/feature"
	"github.com/danielpatrickdp/delay-risk/internal/logging"
	"github.com/spf13/cobra"
)

// #region flags
type predictFlags struct {
	url        string
	grpcHealth string
	logLevel   string
	retries    int
	record     feature.Record
	session    client.Config
}

// #endregion flags

// #region command
func newPredictCmd() *cobra.Command {
	env := config.LoadClient()
	flags := &predictFlags{
		record: feature.Record{
			DistanceKM:      100,
			Weather:         "Clear",
			DayOfWeek:       "Monday",
			TimeOfDay:       "Morning",
			TrainType:       "Express",
			RouteCongestion: "Low",
		},
		session: client.Config{
			HealthTimeout:  env.HealthTimeout,
			PollInterval:   env.PollInterval,
			WakeBudget:     env.WakeBudget,
			PredictTimeout: env.PredictTimeout,
		},
	}

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict delay risk for one journey, waking the service if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPredict(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.url, "url", env.URL, "prediction service base URL")
	f.StringVar(&flags.grpcHealth, "grpc-health", env.GRPCHealthAddr, "probe readiness over gRPC at this address")
	f.StringVar(&flags.logLevel, "log-level", env.LogLevel, "client log level")
	f.IntVar(&flags.retries, "retries", 0, "start another wake attempt this many times when the service stays unreachable")

	f.Float64Var(&flags.record.DistanceKM, "distance", flags.record.DistanceKM, "journey distance in km")
	f.StringVar(&flags.record.Weather, "weather", flags.record.Weather, "one of "+listDomain(feature.FieldWeather))
	f.StringVar(&flags.record.DayOfWeek, "day", flags.record.DayOfWeek, "one of "+listDomain(feature.FieldDayOfWeek))
	f.StringVar(&flags.record.TimeOfDay, "time", flags.record.TimeOfDay, "one of "+listDomain(feature.FieldTimeOfDay))
	f.StringVar(&flags.record.TrainType, "train", flags.record.TrainType, "one of "+listDomain(feature.FieldTrainType))
	f.StringVar(&flags.record.RouteCongestion, "congestion", flags.record.RouteCongestion, "one of "+listDomain(feature.FieldRouteCongestion))

	f.DurationVar(&flags.session.HealthTimeout, "health-timeout", flags.session.HealthTimeout, "timeout for one health probe")
	f.DurationVar(&flags.session.PollInterval, "poll-interval", flags.session.PollInterval, "delay between health probes while waking")
	f.DurationVar(&flags.session.WakeBudget, "wake-budget", flags.session.WakeBudget, "total time to wait for the service to wake")
	f.DurationVar(&flags.session.PredictTimeout, "predict-timeout", flags.session.PredictTimeout, "timeout for the predict call")
	return cmd
}

// #endregion command

// #region run
func runPredict(ctx context.Context, out, errOut io.Writer, flags *predictFlags) error {
	logger := logging.New(errOut, "text", flags.logLevel)

	opts := []client.Option{
		client.WithLogger(logger),
		client.WithObserver(func(_, to client.Readiness) {
			if to == client.Waking {
				fmt.Fprintf(errOut, "Backend is waking up, this can take up to %s...\n", flags.session.WakeBudget)
			}
		}),
	}
	if flags.grpcHealth != "" {
		prober, err := client.NewGRPCProber(flags.grpcHealth)
		if err != nil {
			return err
		}
		defer prober.Close()
		opts = append(opts, client.WithProber(prober))
	}

	session, err := client.NewSession(client.NewHTTPBackend(flags.url), flags.session, opts...)
	if err != nil {
		return err
	}

	// One probe up front so a cold service starts booting before the
	// inputs are checked.
	if _, err := session.Warmup(ctx); err != nil {
		return userError(err)
	}
	warnUnknown(errOut, flags.record)

	pred, err := session.Predict(ctx, flags.record)
	for attempt := 1; errors.Is(err, client.ErrBackendUnreachable) && attempt <= flags.retries; attempt++ {
		fmt.Fprintf(errOut, "Backend still unreachable, retrying (%d/%d)...\n", attempt, flags.retries)
		if err := session.Reset(); err != nil {
			return err
		}
		pred, err = session.Predict(ctx, flags.record)
	}
	if err != nil {
		return userError(err)
	}
	resp := api.NewPredictResponse(pred)
	fmt.Fprintf(out, "Delay risk:  %s\n", resp.DelayRisk)
	fmt.Fprintf(out, "Probability: %.3f\n", resp.Probability)
	return nil
}

// warnUnknown flags categorical values outside the declared domains. The
// service still scores them, with that field contributing nothing.
func warnUnknown(w io.Writer, rec feature.Record) {
	for _, fv := range []struct{ field, value string }{
		{feature.FieldWeather, rec.Weather},
		{feature.FieldDayOfWeek, rec.DayOfWeek},
		{feature.FieldTimeOfDay, rec.TimeOfDay},
		{feature.FieldTrainType, rec.TrainType},
		{feature.FieldRouteCongestion, rec.RouteCongestion},
	} {
		if !feature.InDomain(fv.field, fv.value) {
			fmt.Fprintf(w, "warning: %s %q is not one of %s; it will not affect the score\n",
				fv.field, fv.value, listDomain(fv.field))
		}
	}
}

// userError turns client failures into the messages a person acts on.
func userError(err error) error {
	var (
		ve *api.ValidationError
		se *client.ServerError
	)
	switch {
	case errors.Is(err, client.ErrBackendUnreachable):
		return errors.New("backend unreachable, try again in a minute")
	case errors.Is(err, client.ErrPredictionTimeout):
		return errors.New("prediction timed out, retry")
	case errors.As(err, &ve):
		return fmt.Errorf("invalid input: %s", ve.Error())
	case errors.As(err, &se):
		return fmt.Errorf("prediction failed: %s", se.Detail)
	default:
		return fmt.Errorf("prediction failed: %w", err)
	}
}

func listDomain(field string) string {
	return strings.Join(feature.Domain(field), ", ")
}

// #endregion run
