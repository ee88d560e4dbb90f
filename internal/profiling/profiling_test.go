package profiling

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/assert"
)

func TestSlogAdapterFormats(t *testing.T) {
	var buf bytes.Buffer
	var l pyroscope.Logger = slogAdapter{slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	l.Infof("uploaded %d profiles", 3)
	l.Errorf("upload failed: %s", "timeout")
	assert.Contains(t, buf.String(), `msg="uploaded 3 profiles"`)
	assert.Contains(t, buf.String(), `level=ERROR msg="upload failed: timeout"`)
}

func TestProfileTypesIncludeCPUAndHeap(t *testing.T) {
	assert.Contains(t, profileTypes, pyroscope.ProfileCPU)
	assert.Contains(t, profileTypes, pyroscope.ProfileInuseSpace)
}
