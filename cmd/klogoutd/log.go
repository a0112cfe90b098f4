/*
 * Copyright 2017 Kopano and its licensors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License, version 3,
 * as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func newLogger(disableTimestamp bool, logLevelString string, asJSON bool) (logrus.FieldLogger, error) {
	logLevel, err := logrus.ParseLevel(logLevelString)
	if err != nil {
		return nil, err
	}

	var formatter logrus.Formatter = &logrus.TextFormatter{
		DisableTimestamp: disableTimestamp,
	}
	if asJSON {
		formatter = &logrus.JSONFormatter{
			DisableTimestamp: disableTimestamp,
		}
	}

	return &logrus.Logger{
		Out:       os.Stderr,
		Formatter: formatter,
		Level:     logLevel,
	}, nil
}
