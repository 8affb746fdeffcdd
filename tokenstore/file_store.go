package tokenstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FileStore persists tokens as a JSON object in a single file, surviving
// process restarts within one machine profile. The file is written with
// owner-only permissions since it holds live credentials.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("[NewFileStore] path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrap(err, "[NewFileStore] create token directory")
		}
	}
	return &FileStore{path: path}, nil
}

func (st *FileStore) Get(key string) (string, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	values, err := st.read()
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

func (st *FileStore) Set(key, value string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	values, err := st.read()
	if err != nil {
		return err
	}
	values[key] = value
	return st.write(values)
}

func (st *FileStore) Clear(key string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	values, err := st.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return st.write(values)
}

func (st *FileStore) Close() error {
	return nil
}

func (st *FileStore) read() (map[string]string, error) {
	data, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[FileStore] read token file")
	}
	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(err, "[FileStore] decode token file")
	}
	return values, nil
}

func (st *FileStore) write(values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return errors.Wrap(err, "[FileStore] encode token file")
	}
	// Write-then-rename keeps a crash from leaving a truncated token file.
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "[FileStore] write token file")
	}
	if err := os.Rename(tmp, st.path); err != nil {
		return errors.Wrap(err, "[FileStore] replace token file")
	}
	return nil
}
