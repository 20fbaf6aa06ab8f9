// Copyright 2024 The Ananas Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package klog provides the kernel's leveled logging helpers.
//
// It wraps a single package-level logrus.Logger so subsystems never
// hold their own logger instance; per-subsystem context is attached
// with WithSubsystem instead.
package klog

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the minimum level emitted by the package logger.
func SetLevel(level logrus.Level) {
	std.SetLevel(level)
}

// WithSubsystem tags subsequent log lines with the given subsystem
// name, e.g. klog.WithSubsystem("vfs").Warningf("dcache full").
func WithSubsystem(name string) *logrus.Entry {
	return std.WithField("subsystem", name)
}

func Debugf(format string, args ...any)   { std.Debugf(format, args...) }
func Infof(format string, args ...any)    { std.Infof(format, args...) }
func Warningf(format string, args ...any) { std.Warnf(format, args...) }
func Errorf(format string, args ...any)   { std.Errorf(format, args...) }

// Fatalf logs the given message with fields describing a broken
// kernel invariant, then panics. It never calls os.Exit: the caller
// is expected to be running under a recover-and-report harness (a
// test, or cmd/ananasctl), the same way the original kernel's panic()
// halts rather than returning.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	std.WithField("fatal", true).Error(msg)
	panic(msg)
}
