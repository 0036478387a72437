package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// One JSON object per line on stdout. The portal runs behind a collector
// that parses lines, so the logger itself carries no prefix or flags.
var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line logger. Audit events and request logs both
// funnel through it so the output stays a single ordered stream.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one access-log line. Missing fields are simply absent
// from the object; the entry map is owned by the caller.
func LogRequest(entry map[string]any) {
	if _, ok := entry["app"]; !ok {
		entry["app"] = "acs-portal"
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"app":"acs-portal","level":"error","msg":"access log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
