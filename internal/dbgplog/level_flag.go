// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

package dbgplog

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// levelNames maps the proxy's documented -l LEVEL values to zapcore
// levels. zap has no CRITICAL level of its own, so CRITICAL maps to
// DPanic (the level above Error reserved for serious, program-level
// problems) rather than silently aliasing it to Error.
var levelNames = map[string]zapcore.Level{
	"critical": zapcore.DPanicLevel,
	"error":    zapcore.ErrorLevel,
	"warn":     zapcore.WarnLevel,
	"info":     zapcore.InfoLevel,
	"debug":    zapcore.DebugLevel,
}

// levelFlagValue implements pflag.Value so -l can be bound directly
// to a pflag.FlagSet without an intermediate string variable.
type levelFlagValue struct {
	onLevel func(zapcore.Level)
	value   string
}

func (v *levelFlagValue) Set(raw string) error {
	level, err := ParseLevel(raw)
	if err != nil {
		return err
	}
	v.onLevel(level)
	v.value = raw
	return nil
}

func (v *levelFlagValue) String() string { return v.value }
func (*levelFlagValue) Type() string     { return "level" }

// ParseLevel converts one of CRITICAL|ERROR|WARN|INFO|DEBUG
// (case-insensitive) into a zapcore.Level.
func ParseLevel(raw string) (zapcore.Level, error) {
	level, ok := levelNames[strings.ToLower(raw)]
	if !ok {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: expected one of CRITICAL, ERROR, WARN, INFO, DEBUG", raw)
	}
	return level, nil
}

// AddLevelFlag registers -l/--level on fs, wired to update l's level
// as soon as the flag is parsed.
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	v := &levelFlagValue{onLevel: l.SetLevel, value: "INFO"}
	fs.VarP(v, "level", "l", "log level: one of CRITICAL, ERROR, WARN, INFO, DEBUG")
}
