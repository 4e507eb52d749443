package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/sirupsen/logrus"
)

func TestCustomFormatter(t *testing.T) {
	is := is.New(t)
	f := &CustomFormatter{SystemName: "tasks-service", Location: time.UTC}

	entry := &logrus.Entry{
		Logger:  logrus.New(),
		Time:    time.Date(2026, 5, 1, 9, 30, 15, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "assignment propagated",
		Data: logrus.Fields{
			EventField: "TASK_ASSIGNED",
			"userId":   "u1",
			"taskId":   "t1",
		},
	}

	out, err := f.Format(entry)
	is.NoErr(err)
	is.Equal(string(out), "Date: 2026-05-01, Time: 09:30:15, Event Source: tasks-service, Event Type: WARNING, "+
		"Event ID: TASK_ASSIGNED, Message: assignment propagated, taskId: t1, userId: u1\n")
}

func TestCustomFormatterGeneratesEventID(t *testing.T) {
	is := is.New(t)
	f := &CustomFormatter{SystemName: "tasks-service", Location: time.UTC}

	out, err := f.Format(&logrus.Entry{Logger: logrus.New(), Level: logrus.InfoLevel, Message: "hello", Data: logrus.Fields{}})
	is.NoErr(err)
	line := string(out)
	is.True(strings.Contains(line, "Event ID: "))
	is.True(!strings.Contains(line, "Event ID: ,"))
	is.True(strings.HasSuffix(line, "Message: hello\n"))
}

func TestRequestLogger(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	prevOut, prevFormatter, prevLevel := Logger.Out, Logger.Formatter, Logger.GetLevel()
	Logger.SetOutput(&buf)
	Logger.SetFormatter(&CustomFormatter{SystemName: "test", Location: time.UTC})
	Logger.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		Logger.SetOutput(prevOut)
		Logger.SetFormatter(prevFormatter)
		Logger.SetLevel(prevLevel)
	})

	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks", nil))

	is.Equal(rec.Code, http.StatusCreated)
	line := buf.String()
	is.True(strings.Contains(line, "Event ID: HTTP_REQUEST"))
	is.True(strings.Contains(line, "method: POST"))
	is.True(strings.Contains(line, "path: /api/tasks"))
	is.True(strings.Contains(line, "status: 201"))
}
