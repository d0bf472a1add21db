// Package logger provides structured logging helpers built on log/slog.
//
// New builds a logger for an environment:
//
//	log := logger.New(
//		logger.WithProduction("peer"),
//		logger.WithLevel(slog.LevelDebug),
//	)
//
// Attribute helpers cover the dispatch domain and return an empty attribute
// for empty input, so they can be passed without nil checks:
//
//	log.Warn("ack timeout",
//		logger.Command("Sum"),
//		logger.CorrelationID(id),
//		logger.Peer(peerID),
//		logger.Error(err),
//	)
//
// Components that accept a logger default to Discard.
package logger
