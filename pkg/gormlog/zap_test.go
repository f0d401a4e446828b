package gormlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

func TestShortCaller(t *testing.T) {
	cases := map[string]string{
		"/Users/alex/repo/internal/platform/db/database.go:38": "internal/platform/db/database.go:38",
		"/home/ci/go/pkg/mod/gorm.io/gorm@v1/callbacks.go:12":  "pkg/mod/gorm.io/gorm@v1/callbacks.go:12",
		"a/b.go:1": "a/b.go:1",
		"":         "",
	}
	for in, want := range cases {
		require.Equal(t, want, shortCaller(in), in)
	}
}

func TestNew_Defaults(t *testing.T) {
	l := New(zap.NewNop().Sugar(), Options{})
	require.Equal(t, 500*time.Millisecond, l.config.SlowThreshold)
	require.Equal(t, gormlogger.Warn, l.config.LogLevel)

	silent := l.LogMode(gormlogger.Silent).(*ZapLogger)
	require.Equal(t, gormlogger.Silent, silent.config.LogLevel)
}
