package config

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeConfig_GetReturnsCopy(t *testing.T) {
	cfg := NewLoader().getDefaults()
	cfg.Devices = []DeviceConfig{
		{ID: "dmm-1", Address: "sim://bench/1", Function: "dc_voltage", Enabled: true},
	}
	sc := NewSafeConfig(cfg)

	got := sc.Get()
	got.Engine.ID = "mutated"
	got.Devices[0].ID = "mutated"

	// Mutations on the copy never reach the shared config
	fresh := sc.Get()
	assert.Equal(t, "bench", fresh.Engine.ID)
	assert.Equal(t, "dmm-1", fresh.Devices[0].ID)
}

func TestSafeConfig_UpdateValidates(t *testing.T) {
	sc := NewSafeConfig(NewLoader().getDefaults())

	// Invalid update is rejected and the old config survives
	bad := NewLoader().getDefaults()
	bad.Engine.ID = ""
	err := sc.Update(bad)
	require.Error(t, err)
	assert.Equal(t, "bench", sc.Get().Engine.ID)

	// Valid update lands
	good := NewLoader().getDefaults()
	good.Engine.ID = "lab-7"
	require.NoError(t, sc.Update(good))
	assert.Equal(t, "lab-7", sc.Get().Engine.ID)
}

func TestSafeConfig_UpdateNil(t *testing.T) {
	sc := NewSafeConfig(NewLoader().getDefaults())
	err := sc.Update(nil)
	require.Error(t, err)
}

func TestSafeConfig_NilConfig(t *testing.T) {
	sc := NewSafeConfig(nil)
	got := sc.Get()
	require.NotNil(t, got)
	assert.Empty(t, got.Engine.ID)
}

func TestSafeConfig_ConcurrentAccess(t *testing.T) {
	sc := NewSafeConfig(NewLoader().getDefaults())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	time.AfterFunc(100*time.Millisecond, func() { close(stop) })

	// Writers
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					cfg := NewLoader().getDefaults()
					_ = sc.Update(cfg)
				}
			}
		}()
	}

	// Readers
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					cfg := sc.Get()
					if cfg.Engine.ID != "bench" {
						t.Error("unexpected engine id")
						return
					}
				}
			}
		}()
	}

	wg.Wait()
}
