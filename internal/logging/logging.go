package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu   sync.Mutex
	root = &logrus.Logger{
		Out:       os.Stderr,
		Formatter: &logrus.TextFormatter{FullTimestamp: true},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
		ExitFunc:  os.Exit,
	}
	named []*logrus.Logger
)

// Setup configures the root logger and every logger already derived from it.
func Setup(level string, json bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root.SetLevel(lvl)
	if json {
		root.SetFormatter(&logrus.JSONFormatter{})
	}
	for _, l := range named {
		l.SetLevel(lvl)
		l.SetFormatter(root.Formatter)
	}
	return nil
}

// New returns a logger sharing the root output and level that tags every entry with who=name.
func New(name string) *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	hooks := make(logrus.LevelHooks, len(root.Hooks))
	for lvl, hs := range root.Hooks {
		hooks[lvl] = append([]logrus.Hook(nil), hs...)
	}

	l := &logrus.Logger{
		Out:          root.Out,
		Formatter:    root.Formatter,
		Hooks:        hooks,
		Level:        root.Level,
		ExitFunc:     root.ExitFunc,
		ReportCaller: root.ReportCaller,
	}
	l.AddHook(Who{Name: name})
	named = append(named, l)
	return l
}

type Who struct {
	Name string
}

func (w Who) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (w Who) Fire(entry *logrus.Entry) error {
	entry.Data["who"] = w.Name
	return nil
}
