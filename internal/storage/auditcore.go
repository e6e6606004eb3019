package storage

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// auditCore is a zapcore.Core that fans entries at or above its level
// into the Log table (§3), so the append-only operational audit trail
// is actually populated by the daemon's own logger rather than requiring
// a separate call at every call site.
type auditCore struct {
	store  *Store
	level  zapcore.LevelEnabler
	fields []zapcore.Field
}

// NewAuditCore returns a zapcore.Core, meant to be teed alongside a
// daemon's normal console core via zapcore.NewTee, that persists every
// entry at level or above as a Log row attributed to the most recently
// started scan.
func NewAuditCore(store *Store, level zapcore.LevelEnabler) zapcore.Core {
	return &auditCore{store: store, level: level}
}

func (c *auditCore) Enabled(lvl zapcore.Level) bool {
	return c.level.Enabled(lvl)
}

func (c *auditCore) With(fields []zapcore.Field) zapcore.Core {
	return &auditCore{
		store:  c.store,
		level:  c.level,
		fields: append(append([]zapcore.Field{}, c.fields...), fields...),
	}
}

func (c *auditCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.level.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *auditCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	msg := entry.Message
	if all := append(append([]zapcore.Field{}, c.fields...), fields...); len(all) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range all {
			f.AddTo(enc)
		}
		msg = fmt.Sprintf("%s %v", msg, enc.Fields)
	}

	scan := int64(0)
	if sc, err := c.store.LastScan(); err == nil {
		scan = sc.ID
	}

	l := &Log{
		LogTime:  entry.Time,
		Scan:     scan,
		Severity: entry.Level.String(),
		Origin:   entry.LoggerName,
		Message:  msg,
	}
	return l.Save(c.store)
}

func (c *auditCore) Sync() error {
	return nil
}
