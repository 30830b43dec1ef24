// Copyright 2025 Storymill Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is the process-global logging facade. Call sites use
// log.Infow / log.Errorw without carrying a logger instance; the output goes
// through the logger configured at bootstrap.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/storymill/storymill/pkg/logger"
)

// Logger is re-exported so constructors can accept the injected instance.
type Logger = logger.Logger

func Info(args ...any) {
	logger.GetLogger().Log(context.Background(), slog.LevelInfo, fmt.Sprint(args...))
}

func Infow(msg string, keysAndValues ...any) {
	logger.GetLogger().Log(context.Background(), slog.LevelInfo, msg, keysAndValues...)
}

func Debug(args ...any) {
	logger.GetLogger().Log(context.Background(), slog.LevelDebug, fmt.Sprint(args...))
}

func Debugw(msg string, keysAndValues ...any) {
	logger.GetLogger().Log(context.Background(), slog.LevelDebug, msg, keysAndValues...)
}

func Warn(args ...any) {
	logger.GetLogger().Log(context.Background(), slog.LevelWarn, fmt.Sprint(args...))
}

func Warnw(msg string, keysAndValues ...any) {
	logger.GetLogger().Log(context.Background(), slog.LevelWarn, msg, keysAndValues...)
}

func Error(args ...any) {
	logger.GetLogger().Log(context.Background(), slog.LevelError, fmt.Sprint(args...))
}

func Errorw(msg string, keysAndValues ...any) {
	logger.GetLogger().Log(context.Background(), slog.LevelError, msg, keysAndValues...)
}
