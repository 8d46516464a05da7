// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/config"
)

func setupLogger(c config.LogConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if c.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	switch c.Output {
	case "stdout":
		log.SetOutput(os.Stdout)
	case "file":
		if c.FilePath == "" {
			break
		}
		file, err := os.OpenFile(c.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("failed to open log file: %v, using stderr", err)
		}
	default:
		log.SetOutput(os.Stderr)
	}

	return log
}
