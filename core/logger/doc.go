// Package logger builds the zap logger used by every command.
//
// Level debug selects zap's development config; any other level uses the
// production config at that level. Format picks console or json encoding for
// stdout. When File is set, entries are also written as JSON to a file rotated
// by lumberjack (MaxSizeMB, MaxBackups, MaxAgeDays).
//
// Engine code logs with structured fields such as run_id, table, phase and
// rows. HTTP handlers attach the request's ray ID with WithRayID.
//
// # Usage
//
//	log, err := logger.New(&cfg.Log)
//	if err != nil {
//	    return err
//	}
//	log.Info("Merge applied", zap.String("run_id", report.RunID))
//
//	// Inside a fiber handler:
//	logger.WithRayID(log, c).Warn("Plan failed", zap.Error(err))
package logger
