package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger
var runLogger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
	})
	logger.SetLevel(logrus.InfoLevel)

	// Relays container output, one entry per line the monitor reads.
	runLogger = logrus.New()
	runLogger.SetOutput(os.Stdout)
	runLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "container_output",
		},
	})
	runLogger.SetLevel(logrus.InfoLevel)
}

func GetLogger() *logrus.Logger {
	return logger
}

func GetRunLogger() *logrus.Logger {
	return runLogger
}

// ContainerOutput returns the entry that relays output of one container run,
// so interleaved lines can be told apart by container and snapshotter.
func ContainerOutput(container, snapshotter string) *logrus.Entry {
	return runLogger.WithFields(logrus.Fields{
		"container":   container,
		"snapshotter": snapshotter,
	})
}

// SetOutput redirects both loggers, mainly for tests capturing output.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
	runLogger.SetOutput(w)
}

func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	return nil
}

func SetRunLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	runLogger.SetLevel(logLevel)
	return nil
}

// SetFormatter applies formatter to both loggers. Relayed lines keep their
// container_output message key.
func SetFormatter(formatter logrus.Formatter) {
	logger.SetFormatter(formatter)
	if jf, ok := formatter.(*logrus.JSONFormatter); ok {
		relayed := *jf
		relayed.FieldMap = logrus.FieldMap{logrus.FieldKeyMsg: "container_output"}
		runLogger.SetFormatter(&relayed)
	}
}
