package storage

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestGormWriter_LogsThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	gormWriter{}.Printf("SLOW SQL >= %v [%.3fms] %s", "500ms", 812.5, "INSERT INTO audit_logs")

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"component":"gorm"`)
	assert.Contains(t, out, "SLOW SQL >= 500ms [812.500ms] INSERT INTO audit_logs")
}
