// Command mygrid is the supervisor entrypoint: load configuration,
// wire the external collaborators, recover any persisted state, and
// run the 10-second tick loop until signalled. CLI/signal-handling
// idiom kept from the teacher's root main.go (flag parsing,
// context.WithCancel + os/signal); the top-level retry loop is
// grounded on original_source/src/main.rs's manage_error.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gostonefire/mygrid/backup"
	"github.com/gostonefire/mygrid/charge"
	"github.com/gostonefire/mygrid/config"
	"github.com/gostonefire/mygrid/consumption"
	"github.com/gostonefire/mygrid/flags"
	"github.com/gostonefire/mygrid/manager_inverter"
	"github.com/gostonefire/mygrid/manager_mail"
	"github.com/gostonefire/mygrid/manager_nordpool"
	"github.com/gostonefire/mygrid/manager_smhi"
	"github.com/gostonefire/mygrid/manual"
	"github.com/gostonefire/mygrid/production"
	"github.com/gostonefire/mygrid/scheduling"
	"github.com/gostonefire/mygrid/statusserver"
	"github.com/gostonefire/mygrid/tariff"
	"github.com/gostonefire/mygrid/worker"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path (TOML)")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "mygrid: --config=<path> is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mygrid: %v\n", err)
		os.Exit(1)
	}

	mailer, err := manager_mail.NewClient(cfg.Mail.APIKey, cfg.Mail.From, cfg.Mail.To)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mygrid: %v\n", err)
		os.Exit(1)
	}

	nErrors := 0
	lastError := time.Now()

	for {
		err := runOnce(cfg)
		if err == nil {
			return
		}

		nErrors, lastError = manageError(err, nErrors, lastError, mailer)
	}
}

// alertMailer is the narrow slice of manager_mail.Client that
// manageError needs, so tests can inject a fake without a network
// round trip.
type alertMailer interface {
	Send(subject, body string) error
}

// manageError prints err, escalates by mail once a run has failed
// repeatedly, and decides whether to keep retrying. Consecutive errors
// are counted as long as they occur within an hour of each other; the
// tenth within that window is fatal. Sleeps 10 minutes before the next
// attempt either way. Grounded on original_source/src/main.rs's
// manage_error, extended with the mail escalation the Rust original
// had no client for.
func manageError(err error, nErrors int, lastError time.Time, mailer alertMailer) (int, time.Time) {
	fmt.Fprintln(os.Stderr, err)

	now := time.Now()
	if now.Sub(lastError) > 60*time.Minute {
		nErrors = 1
	} else {
		nErrors++
	}

	if nErrors == 5 || nErrors >= 10 {
		if sendErr := mailer.Send("mygrid: repeated failures", fmt.Sprintf("run %d failed within the last hour: %v", nErrors, err)); sendErr != nil {
			fmt.Fprintf(os.Stderr, "mygrid: alert mail failed: %v\n", sendErr)
		}
	}
	if nErrors >= 10 {
		panic(err)
	}

	time.Sleep(600 * time.Second)
	return nErrors, time.Now()
}

// runOnce wires every collaborator, recovers persisted state, and runs
// the supervisor loop until a shutdown signal arrives. A nil return
// means a clean shutdown; any error means the caller should retry per
// manageError.
func runOnce(cfg *config.Config) error {
	logger, err := setupLogger(cfg.General)
	if err != nil {
		return err
	}
	flags.SetDebug(cfg.General.DebugMode)
	if flags.Debug() {
		logger.Print("running in debug mode")
	}

	now, err := startTime(cfg.General.DebugRunTime)
	if err != nil {
		return err
	}

	inverter, err := manager_inverter.NewClient(cfg.Inverter.Address, byte(cfg.Inverter.SlaveID))
	if err != nil {
		return err
	}
	defer inverter.Close()

	metrics, err := backup.OpenMetricsSink(cfg.Files.MetricsConn)
	if err != nil {
		logger.Printf("metrics sink disabled: %v", err)
	}
	defer metrics.Close()

	nordpool := manager_nordpool.NewClient(cfg.Tariff.DeliveryArea, cfg.Tariff.Currency)
	forecastClient := manager_smhi.NewClient(cfg.General.UserAgent, cfg.GeoRef.Lat, cfg.GeoRef.Long)

	pvDiagram, err := config.LoadPVDiagram(cfg.Files.PVDiagram)
	if err != nil {
		return err
	}
	consDiagram, err := config.LoadConsumptionDiagram(cfg.Files.ConsDiagram)
	if err != nil {
		return err
	}
	productionEstimator := production.NewEstimator(cfg.ProductionParams(pvDiagram), cfg.GeoRef.Lat, cfg.GeoRef.Long)
	consumptionEstimator := consumption.NewEstimator(cfg.ConsumptionParams(consDiagram))
	tariffParams := cfg.TariffParams()

	params := scheduling.BatteryParams{
		SOCKWh:              cfg.Charge.SOCKWh,
		BatKWh:              cfg.Charge.BatKWh,
		ChargeKWhHour:       cfg.Charge.ChargeKWhHour,
		ChargeEfficiency:    cfg.Charge.ChargeEfficiency,
		DischargeEfficiency: cfg.Charge.DischargeEfficiency,
		SellPriority:        cfg.Charge.SellPriority,
		UseTariffFloor:      cfg.Charge.UseTariffFloor,
	}

	store := backup.Store{BackupDir: cfg.Files.BackupDir, ScheduleDir: cfg.Files.ScheduleDir}

	sched, ok, err := backup.LoadSchedule(cfg.Files.ScheduleDir, now)
	if err != nil {
		logger.Printf("load schedule: %v", err)
	}
	if !ok {
		sched = scheduling.Schedule{DateTime: now, Params: params}
	}

	if activeBlock, ok, err := backup.LoadActiveBlock(cfg.Files.BackupDir, now); err != nil {
		logger.Printf("load active block: %v", err)
	} else if ok {
		if _, covered := sched.GetBlockByTime(now, false); !covered {
			sched.Blocks = []scheduling.Block{activeBlock}
		}
		logger.Printf("restored active block %d, adopting without replanning", activeBlock.BlockID)
	}

	var carryOver charge.LastCharge
	if lc, ok, err := backup.LoadLastCharge(cfg.Files.BackupDir, now); err != nil {
		logger.Printf("load last charge: %v", err)
	} else if ok {
		carryOver = lc
	}

	optimize := func(t time.Time) (scheduling.Schedule, error) {
		return buildSchedule(t, carryOver, tariffParams, params, nordpool, forecastClient, productionEstimator, consumptionEstimator, metrics, logger)
	}

	manualCheck := func(t time.Time) (bool, bool, error) {
		return manual.Check(cfg.Files.ManualFile, flags.Manual(), t)
	}

	wcfg := worker.DefaultConfig()
	sup := worker.NewSupervisor(wcfg, inverter, store, manualCheck, optimize, logger, sched, now)

	status := statusserver.NewServer(cfg.Files.BackupDir, cfg.Files.ScheduleDir, cfg.General.StatusPort)
	status.Start()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		status.Stop(stopCtx)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	logger.Print("mygrid supervisor started")

	select {
	case <-sigCh:
		logger.Print("shutdown signal received")
		cancel()
		<-done
	case <-done:
	}

	logger.Print("mygrid supervisor stopped")
	return nil
}

// setupLogger writes to general.log_path and, if general.log_to_stdout,
// also to stdout. Grounded on original_source/src/initialization.rs's
// LOGGER_INITIALIZED-guarded setup_logger call; flags.MarkLoggerInitialized
// gives the same "first caller wins" guarantee.
func setupLogger(g config.General) (*log.Logger, error) {
	var writers []io.Writer

	if g.LogPath != "" {
		f, err := os.OpenFile(g.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
	}
	if g.LogToStdout || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	logger := log.New(io.MultiWriter(writers...), "[mygrid] ", log.LstdFlags)
	if flags.MarkLoggerInitialized() {
		logger.Printf("mygrid starting, log level %s", g.LogLevel)
	}
	return logger, nil
}

// startTime returns debugRunTime parsed as RFC3339 if set, else the
// real current time, UTC. Grounded on original_source's UtcNow::new,
// which substitutes a fixed clock for deterministic debug runs.
func startTime(debugRunTime string) (time.Time, error) {
	if debugRunTime == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, debugRunTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse general.debug_run_time: %w", err)
	}
	return t.UTC(), nil
}

// buildSchedule fetches fresh tariff/forecast inputs and runs the
// combinatorial optimizer for the day containing now. Grounded on
// original_source/src/initialization.rs/worker.rs's daily planning
// sequence: spot prices -> priced tariffs, weather forecast -> PV and
// load estimates -> net production per unit -> scheduling.Optimize.
func buildSchedule(
	now time.Time,
	carryOver charge.LastCharge,
	tariffParams tariff.Params,
	params scheduling.BatteryParams,
	nordpool *manager_nordpool.Client,
	forecastClient *manager_smhi.Client,
	prodEstimator *production.Estimator,
	consEstimator *consumption.Estimator,
	metrics *backup.MetricsSink,
	logger *log.Logger,
) (scheduling.Schedule, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	day := now.UTC().Truncate(24 * time.Hour)

	spot, err := nordpool.GetTariffs(ctx, day)
	if err != nil {
		return scheduling.Schedule{}, err
	}

	forecast, err := forecastClient.GetForecast(day)
	if err != nil {
		return scheduling.Schedule{}, err
	}

	prodHourly, _ := prodEstimator.Estimate(forecast)
	consHourly := consEstimator.Estimate(toConsumptionForecast(forecast))

	hourlySpot := make([]float64, 24)
	for h := range hourlySpot {
		hourlySpot[h] = spot.Buy[h*4]
	}
	priced := tariff.AdaptAll(tariffParams, hourlyTimestamps(day), hourlySpot)

	buy := make([]float64, scheduling.UnitsPerDay)
	sell := make([]float64, scheduling.UnitsPerDay)
	for u := range buy {
		h := u / 4
		if h < len(priced) {
			buy[u] = priced[h].Buy
			sell[u] = priced[h].Sell
		}
	}

	netProd := netProductionPerUnit(prodHourly, consHourly)

	chargeIn := charge.SOCToAvailableCharge(carryOver.SOCOut, params.SOCKWh)
	if carryOver.SOCOut == 0 {
		chargeIn = charge.SOCToAvailableCharge(10, params.SOCKWh)
	}

	start := now.UTC().Truncate(scheduling.UnitDuration).Sub(day).Nanoseconds() / scheduling.UnitDuration.Nanoseconds()
	if start < 0 {
		start = 0
	}

	logger.Printf("optimizing schedule for %s starting at unit %d", day.Format("2006-01-02"), start)

	sched := scheduling.Optimize(int(start), scheduling.Tariffs{Buy: buy, Sell: sell}, netProd, chargeIn, carryOver.ChargeTariffOut, now, params)

	recordForecastMetrics(metrics, day, prodHourly, consHourly, sched, logger)
	return sched, nil
}

// recordForecastMetrics writes the day's forecast PV/load profile and
// its planned block type to the optional metrics sink, one row per
// hour. The supervisor has no live power meter (out of scope per
// spec.md), so this records the optimizer's own forecast rather than
// measured flows; battery_power is left at zero for the same reason.
func recordForecastMetrics(metrics *backup.MetricsSink, day time.Time, prod []production.Sample, cons []consumption.Sample, sched scheduling.Schedule, logger *log.Logger) {
	if metrics == nil {
		return
	}
	for h := 0; h < 24 && h < len(prod) && h < len(cons); h++ {
		ts := day.Add(time.Duration(h) * time.Hour)
		blockType := "unknown"
		if id, ok := sched.GetBlockByTime(ts, true); ok {
			if b := sched.GetBlockByID(id); b != nil {
				blockType = string(b.BlockType)
			}
		}
		gridPower := cons[h].Power - prod[h].Power
		if err := metrics.Write(ts, prod[h].Power, gridPower, 0, 0, blockType); err != nil {
			logger.Printf("metrics write: %v", err)
		}
	}
}

func toConsumptionForecast(samples []production.ForecastSample) []consumption.ForecastSample {
	out := make([]consumption.ForecastSample, len(samples))
	for i, s := range samples {
		out[i] = consumption.ForecastSample{ValidTime: s.ValidTime, TempC: s.TempC}
	}
	return out
}

func hourlyTimestamps(day time.Time) []time.Time {
	out := make([]time.Time, 24)
	for h := range out {
		out[h] = day.Add(time.Duration(h) * time.Hour)
	}
	return out
}

// netProductionPerUnit expands hourly PV-minus-load kWh figures into
// one value per scheduling.UnitDuration unit, each hour's figure
// divided evenly across its four quarter-hour units.
func netProductionPerUnit(prod []production.Sample, cons []consumption.Sample) []float64 {
	hourlyNet := make([]float64, 24)
	for i := 0; i < 24 && i < len(prod); i++ {
		hourlyNet[i] += prod[i].Power
	}
	for i := 0; i < 24 && i < len(cons); i++ {
		hourlyNet[i] -= cons[i].Power
	}

	out := make([]float64, scheduling.UnitsPerDay)
	for u := range out {
		out[u] = hourlyNet[u/4] / 4
	}
	return out
}
