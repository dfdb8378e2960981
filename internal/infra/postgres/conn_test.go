package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_WithDefaults(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantMax int32
		wantMin int32
	}{
		{name: "sized from workers", cfg: Config{Workers: 8}, wantMax: 8 + poolHeadroom, wantMin: 2},
		{name: "no workers", cfg: Config{}, wantMax: 1 + poolHeadroom, wantMin: 2},
		{name: "explicit max wins", cfg: Config{Workers: 8, MaxConns: 3}, wantMax: 3, wantMin: 2},
		{name: "min clamped to max", cfg: Config{MaxConns: 1, MinConns: 5}, wantMax: 1, wantMin: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.withDefaults()
			assert.Equal(t, tt.wantMax, got.MaxConns)
			assert.Equal(t, tt.wantMin, got.MinConns)
			assert.Equal(t, 30*time.Minute, got.MaxConnLifetime)
			assert.Equal(t, 5*time.Minute, got.MaxConnIdleTime)
		})
	}
}
