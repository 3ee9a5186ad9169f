// Package traceflag keeps a developer-log trace flag active for the
// connected user so the next test run emits a replayable debug log.
package traceflag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/replay-tools/rdt/internal/org"
	"github.com/replay-tools/rdt/internal/sfcli"
)

const (
	// DebugLevelName is the DebugLevel created when the user has no trace flag.
	DebugLevelName = "ReplayDebuggerLevels"
	// LogType is the trace flag type that captures logs for the traced user.
	LogType = "DEVELOPER_LOG"
	// Window is how long a created or extended trace flag stays active.
	Window = 30 * time.Minute

	apexCodeLevel    = "FINEST"
	visualforceLevel = "FINER"

	salesforceTimeLayout = "2006-01-02T15:04:05.000Z"
)

// Client is the subset of the sf client used to manage trace flags.
type Client interface {
	Query(ctx context.Context, opts sfcli.QueryOpts, records any) error
	CreateRecord(ctx context.Context, opts sfcli.RecordOpts) (string, error)
	UpdateRecord(ctx context.Context, opts sfcli.RecordOpts) error
}

type traceFlagRecord struct {
	ID             string `json:"Id"`
	LogType        string `json:"LogType"`
	StartDate      string `json:"StartDate"`
	ExpirationDate string `json:"ExpirationDate"`
	DebugLevelID   string `json:"DebugLevelId"`
}

type debugLevelRecord struct {
	ID string `json:"Id"`
}

// Enabler ensures the connected user has an active trace flag.
type Enabler struct {
	client Client
	logger *log.Logger
	now    func() time.Time
}

// NewEnabler builds a trace flag enabler.
func NewEnabler(client Client, logger *log.Logger) (*Enabler, error) {
	if client == nil {
		return nil, errors.New("sf client is required")
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Enabler{
		client: client,
		logger: logger,
		now:    time.Now,
	}, nil
}

// EnsureReady reports whether the org will capture a debug log for the next
// run. It is safe to call before every run and never returns an error;
// failures are logged and reported as false.
func (e *Enabler) EnsureReady(ctx context.Context, conn org.Connection) bool {
	if e == nil {
		return false
	}
	if err := e.ensure(ctx, conn); err != nil {
		e.logger.With("user_id", conn.UserID, "error", err.Error()).Warn("debug logging not ready")
		return false
	}
	return true
}

func (e *Enabler) ensure(ctx context.Context, conn org.Connection) error {
	if strings.TrimSpace(conn.UserID) == "" {
		return errors.New("connection has no user id")
	}
	targetOrg := conn.TargetOrg()
	now := e.now().UTC()

	var flags []traceFlagRecord
	err := e.client.Query(ctx, sfcli.QueryOpts{
		TargetOrg: targetOrg,
		Query: fmt.Sprintf(
			"SELECT Id, LogType, StartDate, ExpirationDate, DebugLevelId FROM TraceFlag WHERE LogType = '%s' AND TracedEntityId = '%s'",
			LogType,
			conn.UserID,
		),
		Tooling: true,
	}, &flags)
	if err != nil {
		return fmt.Errorf("query trace flags: %w", err)
	}

	if len(flags) > 0 {
		return e.refresh(ctx, targetOrg, flags[0], now)
	}
	return e.create(ctx, targetOrg, conn.UserID, now)
}

func (e *Enabler) refresh(ctx context.Context, targetOrg string, flag traceFlagRecord, now time.Time) error {
	if strings.TrimSpace(flag.DebugLevelID) != "" {
		if err := e.client.UpdateRecord(ctx, sfcli.RecordOpts{
			TargetOrg: targetOrg,
			SObject:   "DebugLevel",
			RecordID:  flag.DebugLevelID,
			Values:    logLevels(),
			Tooling:   true,
		}); err != nil {
			return fmt.Errorf("update debug level: %w", err)
		}
	}

	if hasTimeRemaining(flag.ExpirationDate, now) {
		e.logger.With("trace_flag_id", flag.ID).Debug("trace flag active")
		return nil
	}

	if err := e.client.UpdateRecord(ctx, sfcli.RecordOpts{
		TargetOrg: targetOrg,
		SObject:   "TraceFlag",
		RecordID:  flag.ID,
		Values: map[string]string{
			"StartDate":      formatTime(now),
			"ExpirationDate": formatTime(now.Add(Window)),
		},
		Tooling: true,
	}); err != nil {
		return fmt.Errorf("extend trace flag: %w", err)
	}
	e.logger.With("trace_flag_id", flag.ID).Info("trace flag extended")
	return nil
}

func (e *Enabler) create(ctx context.Context, targetOrg, userID string, now time.Time) error {
	debugLevelID, err := e.debugLevel(ctx, targetOrg)
	if err != nil {
		return err
	}

	id, err := e.client.CreateRecord(ctx, sfcli.RecordOpts{
		TargetOrg: targetOrg,
		SObject:   "TraceFlag",
		Values: map[string]string{
			"TracedEntityId": userID,
			"LogType":        LogType,
			"DebugLevelId":   debugLevelID,
			"StartDate":      formatTime(now),
			"ExpirationDate": formatTime(now.Add(Window)),
		},
		Tooling: true,
	})
	if err != nil {
		return fmt.Errorf("create trace flag: %w", err)
	}
	e.logger.With("trace_flag_id", id).Info("trace flag created")
	return nil
}

func (e *Enabler) debugLevel(ctx context.Context, targetOrg string) (string, error) {
	var levels []debugLevelRecord
	err := e.client.Query(ctx, sfcli.QueryOpts{
		TargetOrg: targetOrg,
		Query:     fmt.Sprintf("SELECT Id FROM DebugLevel WHERE DeveloperName = '%s'", DebugLevelName),
		Tooling:   true,
	}, &levels)
	if err != nil {
		return "", fmt.Errorf("query debug levels: %w", err)
	}

	if len(levels) > 0 && strings.TrimSpace(levels[0].ID) != "" {
		if err := e.client.UpdateRecord(ctx, sfcli.RecordOpts{
			TargetOrg: targetOrg,
			SObject:   "DebugLevel",
			RecordID:  levels[0].ID,
			Values:    logLevels(),
			Tooling:   true,
		}); err != nil {
			return "", fmt.Errorf("update debug level: %w", err)
		}
		return levels[0].ID, nil
	}

	values := logLevels()
	values["DeveloperName"] = DebugLevelName
	values["MasterLabel"] = DebugLevelName
	id, err := e.client.CreateRecord(ctx, sfcli.RecordOpts{
		TargetOrg: targetOrg,
		SObject:   "DebugLevel",
		Values:    values,
		Tooling:   true,
	})
	if err != nil {
		return "", fmt.Errorf("create debug level: %w", err)
	}
	return id, nil
}

func logLevels() map[string]string {
	return map[string]string{
		"ApexCode":    apexCodeLevel,
		"Visualforce": visualforceLevel,
	}
}

// hasTimeRemaining reports whether expiration is more than one Window away.
// Unparsable dates count as expired.
func hasTimeRemaining(expiration string, now time.Time) bool {
	parsed, ok := parseTime(expiration)
	if !ok {
		return false
	}
	return parsed.Sub(now) > Window
}

func parseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05.000Z0700",
		time.RFC3339Nano,
	} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func formatTime(value time.Time) string {
	return value.UTC().Format(salesforceTimeLayout)
}
