// This file is part of dfutool.
//
// dfutool is free software: you can redistribute it and/or modify
// it under the terms of version 3 of the GNU Lesser General Public
// License as published by the Free Software Foundation.

// Package log provides the logger used throughout dfutool.
package log

import (
	"log"
	"os"
)

// Logger describes a logger to be used in dfutool.
type Logger interface {
	// Debugf logs a debugging message.
	Debugf(format string, args ...interface{})

	// Infof logs an informational message.
	Infof(format string, args ...interface{})

	// Warnf logs a warning message.
	Warnf(format string, args ...interface{})

	// Errorf logs an error message.
	Errorf(format string, args ...interface{})
}

// DefaultLogger is the logger used by default everywhere within dfutool.
var DefaultLogger Logger

func init() {
	DefaultLogger = logWrapper{Logger: log.New(os.Stderr, "", log.LstdFlags)}
}

type logWrapper struct {
	Logger *log.Logger
}

func (logger logWrapper) Debugf(format string, args ...interface{}) {
	if os.Getenv("DFUTOOL_DEBUG") == "" {
		return
	}
	logger.Logger.Printf("[dfutool][DEBUG] "+format, args...)
}

func (logger logWrapper) Infof(format string, args ...interface{}) {
	logger.Logger.Printf("[dfutool] "+format, args...)
}

func (logger logWrapper) Warnf(format string, args ...interface{}) {
	logger.Logger.Printf("[dfutool][WARN] "+format, args...)
}

func (logger logWrapper) Errorf(format string, args ...interface{}) {
	logger.Logger.Printf("[dfutool][ERROR] "+format, args...)
}

// Debugf logs a debugging message via DefaultLogger.
func Debugf(format string, args ...interface{}) {
	DefaultLogger.Debugf(format, args...)
}

// Infof logs an informational message via DefaultLogger.
func Infof(format string, args ...interface{}) {
	DefaultLogger.Infof(format, args...)
}

// Warnf logs a warning message via DefaultLogger.
func Warnf(format string, args ...interface{}) {
	DefaultLogger.Warnf(format, args...)
}

// Errorf logs an error message via DefaultLogger.
func Errorf(format string, args ...interface{}) {
	DefaultLogger.Errorf(format, args...)
}
