// Package store 把账本与熔断状态落盘成 JSON 快照，冷启动时恢复，
// 避免重启后丢失当日已实现盈亏和未复位的熔断。
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"market-maker-core/inventory"
	"market-maker-core/risk"
)

// KillSwitchState 熔断状态的持久化形式。
type KillSwitchState struct {
	Triggered   bool      `json:"triggered"`
	Reason      string    `json:"reason,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	TriggeredAt time.Time `json:"triggeredAt,omitempty"`
}

// Snapshot 一次完整的状态落盘。
type Snapshot struct {
	SavedAt    time.Time           `json:"savedAt"`
	Book       inventory.BookState `json:"book"`
	KillSwitch KillSwitchState     `json:"killSwitch"`
}

// Store 单文件 JSON 存储。写入走临时文件 + rename，崩溃时旧快照完整。
type Store struct {
	path string
}

// NewStore path 为快照文件路径，父目录不存在时自动创建。
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Capture 采集当前状态。
func Capture(book *inventory.Book, ks *risk.KillSwitch) Snapshot {
	snap := Snapshot{
		SavedAt: time.Now().UTC(),
		Book:    book.State(),
	}
	if ks != nil && ks.IsTriggered() {
		reason, detail := ks.Cause()
		snap.KillSwitch = KillSwitchState{
			Triggered:   true,
			Reason:      reason.String(),
			Detail:      detail,
			TriggeredAt: ks.TriggeredAt(),
		}
	}
	return snap
}

// Save 原子写入快照。
func (s *Store) Save(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// Load 读取快照。文件不存在时返回 ok=false 而不是错误。
func (s *Store) Load() (Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("store: read: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("store: unmarshal: %w", err)
	}
	return snap, true, nil
}

// Restore 把快照恢复到账本与熔断开关。返回重建的账本。
func Restore(snap Snapshot, ks *risk.KillSwitch) *inventory.Book {
	book := inventory.RestoreBook(snap.Book)
	if ks != nil && snap.KillSwitch.Triggered {
		ks.Restore(true, risk.ParseReason(snap.KillSwitch.Reason), snap.KillSwitch.Detail, snap.KillSwitch.TriggeredAt)
	}
	return book
}
