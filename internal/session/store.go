// Package session реализует постоянное хранилище сессионных меток,
// переживающее перезапуск приложения.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Ключи хранилища.
const (
	keyOrderCode  = "current_order_code"
	keyInProgress = "payment_in_progress"
	keyWebsiteID  = "current_websiteId"
	keyUserUID    = "user_uid"
	keyUserEmail  = "user_email"
	keyLanguage   = "selected_language"
)

// Store хранит сессионные метки в JSON-файле. Каждая запись перезаписывает
// файл целиком через временный файл и переименование, поэтому частично
// применённое состояние снаружи не наблюдаемо.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// NewStore открывает хранилище по указанному пути, создавая каталог при
// необходимости. Отсутствующий файл означает пустое хранилище.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty state file path")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	s := &Store{
		path: path,
		data: make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("parse state file: %w", err)
		}
	}

	return s, nil
}

// SetOrder сохраняет код заказа, статус которого отслеживается.
func (s *Store) SetOrder(orderCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[keyOrderCode] = orderCode
	return s.save()
}

// SetInProgress сохраняет признак незавершённой оплаты.
func (s *Store) SetInProgress(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v {
		s.data[keyInProgress] = "true"
	} else {
		delete(s.data, keyInProgress)
	}
	return s.save()
}

// SetWebsiteID сохраняет идентификатор созданного сайта.
func (s *Store) SetWebsiteID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[keyWebsiteID] = id
	return s.save()
}

// Current возвращает код отслеживаемого заказа и признак незавершённой оплаты.
func (s *Store) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data[keyOrderCode], s.data[keyInProgress] == "true"
}

// WebsiteID возвращает идентификатор последнего созданного сайта.
func (s *Store) WebsiteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data[keyWebsiteID]
}

// Clear удаляет код заказа, признак незавершённой оплаты и идентификатор
// сайта одной записью. Повторный вызов ничего не меняет.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, keyOrderCode)
	delete(s.data, keyInProgress)
	delete(s.data, keyWebsiteID)
	return s.save()
}

// SetUser сохраняет идентификатор и почту пользователя.
func (s *Store) SetUser(uid, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[keyUserUID] = uid
	s.data[keyUserEmail] = email
	return s.save()
}

// User возвращает идентификатор и почту пользователя.
func (s *Store) User() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data[keyUserUID], s.data[keyUserEmail]
}

// SetLanguage сохраняет выбранный язык интерфейса.
func (s *Store) SetLanguage(lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[keyLanguage] = lang
	return s.save()
}

// Language возвращает выбранный язык интерфейса.
func (s *Store) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data[keyLanguage]
}

// save перезаписывает файл хранилища атомарно. Вызывается под мьютексом.
func (s *Store) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}
