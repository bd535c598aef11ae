package journal

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

type core struct {
	zapcore.LevelEnabler
	j      *Journal
	fields []zapcore.Field
}

// NewCore returns a zapcore.Core that stores entries at or above level in
// j. Write errors are dropped so a broken journal never affects logging.
func NewCore(j *Journal, level zapcore.LevelEnabler) zapcore.Core {
	return &core{LevelEnabler: level, j: j}
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := &core{LevelEnabler: c.LevelEnabler, j: c.j}
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	var errText string
	if v, ok := enc.Fields["error"]; ok {
		errText = fmt.Sprint(v)
	}

	_ = c.j.Record(&Entry{
		Time:      ent.Time,
		Level:     ent.Level.String(),
		Component: ent.LoggerName,
		Message:   ent.Message,
		Error:     errText,
	})
	return nil
}

func (c *core) Sync() error {
	return nil
}
