package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// fileFormatVersion はセッションファイルのフォーマットバージョン。
const fileFormatVersion = 1

// sessionFile はディスク上のセッションファイルの構造。
type sessionFile struct {
	Version int               `json:"version"`
	Sealed  bool              `json:"sealed"`
	Entries map[string]string `json:"entries"`
}

// errCorruptFile はセッションファイルを解釈できない場合のエラー。
var errCorruptFile = errors.New("session file is corrupt")

// FileSessionStore はJSONファイルを使用したセッションストア。
// 書き込みは一時ファイルへの書き出しとrenameで行い、途中で落ちても元のファイルを壊さない。
// sealerが指定された場合は値を暗号化して保存する。
type FileSessionStore struct {
	path   string
	sealer *Sealer

	mu sync.Mutex
}

// NewFileSessionStore はFileSessionStoreを生成する。sealerはnilでもよい。
func NewFileSessionStore(path string, sealer *Sealer) *FileSessionStore {
	return &FileSessionStore{path: path, sealer: sealer}
}

// Write はkeyにvalueを保存する。
func (s *FileSessionStore) Write(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return storageError("write", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadForUpdate()
	if err != nil {
		return storageError("write", err)
	}

	stored := value
	if s.sealer != nil {
		stored, err = s.sealer.Seal(key, value)
		if err != nil {
			return storageError("write", err)
		}
	}
	entries[key] = stored

	if err := s.save(entries); err != nil {
		return storageError("write", err)
	}
	return nil
}

// Read はkeyの値を返す。ファイルが存在しない場合は空として扱う。
func (s *FileSessionStore) Read(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, storageError("read", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return "", false, storageError("read", err)
	}

	stored, ok := entries[key]
	if !ok {
		return "", false, nil
	}

	if s.sealer == nil {
		return stored, true, nil
	}

	value, err := s.sealer.Open(key, stored)
	if err != nil {
		return "", false, storageError("read", err)
	}
	return value, true, nil
}

// Remove はkeyを削除する。存在しない場合は何もしない。
func (s *FileSessionStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storageError("remove", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadForUpdate()
	if err != nil {
		return storageError("remove", err)
	}

	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)

	if err := s.save(entries); err != nil {
		return storageError("remove", err)
	}
	return nil
}

// load はファイルを読み込んでエントリを返す。
func (s *FileSessionStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var f sessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptFile, err)
	}
	if f.Version != fileFormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errCorruptFile, f.Version)
	}
	// 暗号化の有無が現在の設定と食い違う場合は読めない値として扱う
	if f.Sealed != (s.sealer != nil) {
		return nil, fmt.Errorf("%w: sealed=%v does not match store configuration", errCorruptFile, f.Sealed)
	}
	if f.Entries == nil {
		f.Entries = map[string]string{}
	}

	return f.Entries, nil
}

// loadForUpdate は更新用にエントリを読み込む。
// 解釈できないファイルは読み捨てて空から書き直す。
func (s *FileSessionStore) loadForUpdate() (map[string]string, error) {
	entries, err := s.load()
	if errors.Is(err, errCorruptFile) {
		return map[string]string{}, nil
	}
	return entries, err
}

// save はエントリを一時ファイルに書き出し、renameで置き換える。
func (s *FileSessionStore) save(entries map[string]string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.Marshal(sessionFile{
		Version: fileFormatVersion,
		Sealed:  s.sealer != nil,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionStore = (*FileSessionStore)(nil)
