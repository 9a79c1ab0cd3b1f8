package observability

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ConfigureLogging applies level and format ("text" or "json") to the
// standard logrus logger.
func ConfigureLogging(level, format string) error {
	return configureLogger(logrus.StandardLogger(), os.Stdout, level, format)
}

func configureLogger(l *logrus.Logger, out io.Writer, level, format string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "log level %q", level)
	}

	switch format {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	l.SetLevel(lvl)
	l.SetOutput(out)
	return nil
}
