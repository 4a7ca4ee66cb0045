package rft

// CompatibleLogger is the logging interface the core package depends on.
// It is intentionally small and printf-shaped so that a *zap.SugaredLogger
// satisfies it directly (zap's Sugar() already exposes Infof/Debugf/Errorf),
// mirroring the teacher's own CompatibleLogger in utp.go.
type CompatibleLogger interface {
	Infof(template string, args ...interface{})
	Debugf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// noopLogger discards everything; used when a Connection is constructed
// without an explicit logger.
type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Errorf(string, ...interface{}) {}
