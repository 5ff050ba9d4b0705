package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		name        string
		lvl         string
		parsedLevel slog.Level
		hasErr      bool
	}{
		{
			name:        "Empty string",
			lvl:         "",
			parsedLevel: 0,
			hasErr:      true,
		},
		{
			name:        "Uppercase level",
			lvl:         "DEBUG",
			parsedLevel: DebugLevel,
			hasErr:      false,
		},
		{
			name:        "Debug",
			lvl:         "debug",
			parsedLevel: DebugLevel,
			hasErr:      false,
		},
		{
			name:        "Info",
			lvl:         "info",
			parsedLevel: InfoLevel,
			hasErr:      false,
		},
		{
			name:        "Warn",
			lvl:         "warn",
			parsedLevel: WarnLevel,
			hasErr:      false,
		},
		{
			name:        "Error",
			lvl:         "error",
			parsedLevel: ErrorLevel,
			hasErr:      false,
		},
		{
			name:        "Unsupported level",
			lvl:         "XXX",
			parsedLevel: 0,
			hasErr:      true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, err := ParseLevel(tc.lvl)

			assert.Equal(t, tc.parsedLevel, l)

			if tc.hasErr {
				assert.NotNil(t, err)
				assert.ErrorContains(t, err, "unrecognized level: ")
			} else {
				assert.Nil(t, err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		name     string
		lvl      string
		format   string
		contains string
		hasErr   bool
	}{
		{name: "Text", lvl: "info", format: "text", contains: `msg=wrapper:finished name=foo`},
		{name: "Default format", lvl: "info", format: "", contains: `msg=wrapper:finished name=foo`},
		{name: "Json", lvl: "info", format: "json", contains: `"msg":"wrapper:finished","name":"foo"`},
		{name: "Filtered", lvl: "error", format: "text", contains: ""},
		{name: "Bad level", lvl: "loud", format: "text", hasErr: true},
		{name: "Bad format", lvl: "info", format: "xml", hasErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&buf, tc.lvl, tc.format)
			if tc.hasErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			logger.Info("wrapper:finished", "name", "foo")

			if tc.contains == "" {
				assert.Empty(t, buf.String())
			} else {
				assert.Contains(t, buf.String(), tc.contains)
			}
		})
	}
}
