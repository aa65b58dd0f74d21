package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-maker-core/inventory"
	"market-maker-core/order"
	"market-maker-core/risk"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "mm.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	// 文件不存在 → ok=false 且无错误
	_, ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	book := inventory.NewBook(10000)
	book.MaybeRollover(time.Now())
	book.ApplyFill("BTCUSDT", order.SideBuy, 0.1, 50000, 0.5, time.Now())
	book.Mark("BTCUSDT", 50500)

	ks := risk.NewKillSwitch(nil)
	ks.Trigger(risk.ReasonDailyLoss, "daily realized -2.40 <= -2.00")

	require.NoError(t, s.Save(Capture(book, ks)))

	loaded, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)

	ks2 := risk.NewKillSwitch(nil)
	book2 := Restore(loaded, ks2)

	assert.InDelta(t, book.Equity(), book2.Equity(), 1e-9)
	assert.InDelta(t, book.DailyRealized(), book2.DailyRealized(), 1e-9)
	assert.Equal(t, book.Position("BTCUSDT").Qty, book2.Position("BTCUSDT").Qty)

	// 熔断状态跨重启保持
	require.True(t, ks2.IsTriggered())
	reason, detail := ks2.Cause()
	assert.Equal(t, risk.ReasonDailyLoss, reason)
	assert.Contains(t, detail, "-2.40")
}

func TestSaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mm.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	book := inventory.NewBook(5000)
	require.NoError(t, s.Save(Capture(book, nil)))

	// 覆盖写后临时文件不残留
	require.NoError(t, s.Save(Capture(book, nil)))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, loaded.KillSwitch.Triggered)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mm.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := NewStore(path)
	require.NoError(t, err)
	_, _, err = s.Load()
	assert.Error(t, err)
}
