package journalkeeper

import "go.uber.org/zap"

// defaultLogger builds a production zap config, falling back to a no-op
// logger if it somehow fails to build, so construction never panics over
// logging.
func defaultLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// logFields prefixes every log line with the follower's identity and
// term ahead of call-site fields.
func (f *Follower) logFields(kvs ...interface{}) []interface{} {
	base := []interface{}{"server_uri", f.serverURI, "term", f.currentTerm}
	return append(base, kvs...)
}
