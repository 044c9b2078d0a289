package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetLogLevel(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	tests := []struct {
		level int
		want  log.Level
	}{
		{0, log.DebugLevel},
		{1, log.InfoLevel},
		{2, log.WarnLevel},
		{3, log.ErrorLevel},
		{9, log.ErrorLevel},
	}

	for _, tt := range tests {
		setLogLevel(tt.level)
		assert.Equal(t, tt.want, log.GetLevel(), "level %d", tt.level)
	}
}
