// Sleepside bridges a smart-mattress vendor's cloud API to Home
// Assistant. It authenticates the account, discovers the bed,
// periodically polls device state and per-user sleep intervals,
// derives per-side occupant metrics (heating, presence, session
// summaries), persists completed sessions to SQLite, and publishes
// derived state over MQTT discovery.
//
// Usage:
//
//	sleepside serve              Run the bridge
//	sleepside status             One-shot poll: print per-side state
//	sleepside version            Print version and build information
//	sleepside -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nugget/sleepside/internal/bed"
	"github.com/nugget/sleepside/internal/buildinfo"
	"github.com/nugget/sleepside/internal/config"
	"github.com/nugget/sleepside/internal/eightsleep"
	"github.com/nugget/sleepside/internal/mqtt"
	"github.com/nugget/sleepside/internal/poller"
	"github.com/nugget/sleepside/internal/sessionstore"
)

// main is intentionally minimal. It constructs the OS-level
// environment (context, stdio, argv) and delegates immediately to
// [run]. This keeps os.Exit, os.Stdout, and os.Args out of the
// application logic so the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the sleepside command. All OS-level
// dependencies are injected as parameters so tests can drive the
// lifecycle. Arguments are parsed by hand: the flag package relies on
// package-level globals, which makes concurrent test runs awkward,
// and the argument surface here is small.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}

	switch command {
	case "version":
		return printVersion(stdout, outputFmt)
	case "status":
		return runStatus(ctx, stdout, configPath)
	case "serve", "":
		return runServe(ctx, stdout, configPath)
	default:
		return fmt.Errorf("unknown command %q (try -h)", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprint(w, `sleepside — smart mattress cloud bridge

Usage:
  sleepside [flags] <command>

Commands:
  serve      Run the bridge (default)
  status     One-shot poll: print per-side state and exit
  version    Print version and build information

Flags:
  -config <path>   Config file (default: search standard locations)
  -o <fmt>         Output format: text or json
`)
	return nil
}

func printVersion(w io.Writer, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(buildinfo.Info())
	}
	fmt.Fprintln(w, buildinfo.String())
	return nil
}

// loadConfig locates and loads the config file, then builds the
// logger from its log level.
func loadConfig(stdout io.Writer, configPath string) (*config.Config, *slog.Logger, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	if cfg.Account.Email == "" || cfg.Account.Password == "" {
		return nil, nil, fmt.Errorf("config %s: account.email and account.password are required", path)
	}

	return cfg, logger, nil
}

// discoverBed logs in, finds the first device, and creates an
// occupant for each assigned side.
func discoverBed(ctx context.Context, client *eightsleep.Client, history *bed.History, logger *slog.Logger) (string, []*bed.Occupant, error) {
	if err := client.Login(ctx); err != nil {
		return "", nil, err
	}

	profile, err := client.Profile(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(profile.DeviceIDs) == 0 {
		return "", nil, fmt.Errorf("account has no devices")
	}
	deviceID := profile.DeviceIDs[0]

	owners, err := client.DeviceOwners(ctx, deviceID)
	if err != nil {
		return "", nil, err
	}

	var occupants []*bed.Occupant
	if owners.LeftUserID != "" {
		occupants = append(occupants, bed.NewOccupant(owners.LeftUserID, bed.Left, history, logger))
	}
	if owners.RightUserID != "" {
		occupants = append(occupants, bed.NewOccupant(owners.RightUserID, bed.Right, history, logger))
	}
	if len(occupants) == 0 {
		return "", nil, fmt.Errorf("device %s has no assigned users", deviceID)
	}

	logger.Info("bed discovered",
		"device_id", deviceID,
		"is_pod", profile.IsPod,
		"occupants", len(occupants),
	)
	return deviceID, occupants, nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, logger, err := loadConfig(stdout, configPath)
	if err != nil {
		return err
	}

	logger.Info("starting sleepside", "build", buildinfo.String())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := eightsleep.NewClient(cfg.API.BaseURL, cfg.Account.Email, cfg.Account.Password, logger)

	history := bed.NewHistory()
	deviceID, occupants, err := discoverBed(ctx, client, history, logger)
	if err != nil {
		return err
	}

	store, err := sessionstore.NewStore(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	p := poller.New(poller.Config{
		Snapshots:         client,
		Intervals:         client,
		DeviceID:          deviceID,
		History:           history,
		Occupants:         occupants,
		Recorder:          store,
		DeviceInterval:    time.Duration(cfg.Poll.DeviceIntervalSec) * time.Second,
		IntervalsInterval: time.Duration(cfg.Poll.IntervalsIntervalSec) * time.Second,
		Logger:            logger,
	})

	var wg sync.WaitGroup

	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return err
		}

		pub := mqtt.New(cfg.MQTT, instanceID, &bedSource{occupants: occupants}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher stopped", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("mqtt shutdown", "error", err)
			}
		}()
	}

	p.Start(ctx)
	wg.Wait()

	logger.Info("sleepside stopped")
	return nil
}

// runStatus performs one snapshot poll and one intervals refresh,
// then prints the derived per-side state as indented JSON.
func runStatus(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, logger, err := loadConfig(io.Discard, configPath)
	if err != nil {
		return err
	}

	client := eightsleep.NewClient(cfg.API.BaseURL, cfg.Account.Email, cfg.Account.Password, logger)

	history := bed.NewHistory()
	deviceID, occupants, err := discoverBed(ctx, client, history, logger)
	if err != nil {
		return err
	}

	p := poller.New(poller.Config{
		Snapshots: client,
		Intervals: client,
		DeviceID:  deviceID,
		History:   history,
		Occupants: occupants,
		Logger:    logger,
	})
	p.PollDevice(ctx)
	p.RefreshIntervals(ctx)

	type sideReport struct {
		UserID  string             `json:"user_id"`
		Side    string             `json:"side"`
		Present bool               `json:"present"`
		Heating bed.HeatingValues  `json:"heating"`
		Current *bed.CurrentSession `json:"current_session,omitempty"`
		Last    *bed.LastSession    `json:"last_session,omitempty"`
	}

	report := make([]sideReport, 0, len(occupants))
	for _, occ := range occupants {
		r := sideReport{
			UserID:  occ.UserID,
			Side:    occ.Side.String(),
			Present: occ.Present(),
			Heating: occ.HeatingValues(),
		}
		if cur, err := occ.CurrentSession(); err == nil {
			r.Current = cur
		}
		if last, err := occ.LastSession(); err == nil {
			r.Last = last
		}
		report = append(report, r)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// bedSource adapts the occupant reducers to the MQTT publisher's
// BedSource interface.
type bedSource struct {
	occupants []*bed.Occupant
}

func (b *bedSource) SideStates() []mqtt.SideState {
	states := make([]mqtt.SideState, 0, len(b.occupants))
	for _, occ := range b.occupants {
		hv := occ.HeatingValues()
		state := mqtt.SideState{
			Side:         occ.Side.String(),
			HeatingLevel: hv.Level,
			TargetLevel:  hv.Target,
			NowHeating:   hv.Active,
			Present:      occ.Present(),
		}
		if last, err := occ.LastSession(); err == nil {
			score := last.Score
			state.LastScore = &score
		}
		states = append(states, state)
	}
	return states
}
