/*
Package log provides structured logging for Burrow using zerolog.

A single package-level Logger is configured once by Init and shared by every
component. Child loggers carry context fields:

	reconLog := log.WithComponent("reconciler")
	reconLog.Info().Str("pool_id", pool.ID).Int("count", count).Msg("pool checked")

	poolLog := log.WithPoolID(pool.ID)
	poolLog.Error().Err(err).Msg("failed to provision instance")

Console output is the default; set JSONOutput for machine-readable logs:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Levels are debug, info, warn and error. ParseLevel maps configuration strings
to a Level and falls back to info for anything it does not recognise.
*/
package log
