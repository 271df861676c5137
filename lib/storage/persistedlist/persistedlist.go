package persistedlist

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/terrastream/mysql-cdc/lib/logger"
)

// PersistedList is an append-only list flushed to a YAML file on every push.
// It backs the schema history (DDL statements in arrival order).
type PersistedList[T any] struct {
	filePath string

	mu   sync.Mutex
	data []T
}

func NewPersistedList[T any](filePath string) *PersistedList[T] {
	persistedList := &PersistedList[T]{
		filePath: filePath,
	}

	data, err := loadFromFile[T](filePath)
	if err != nil {
		logger.Panic("Failed to load persisted list from filepath", slog.Any("err", err))
	}

	persistedList.data = data
	return persistedList
}

func (p *PersistedList[T]) Push(value T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data = append(p.data, value)

	file, err := os.Create(p.filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	yamlBytes, err := yaml.Marshal(p.data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if _, err = file.Write(yamlBytes); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}

	return file.Close()
}

func (p *PersistedList[T]) GetData() []T {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]T, len(p.data))
	copy(out, p.data)
	return out
}

func loadFromFile[T any](filePath string) ([]T, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	defer file.Close()
	readBytes, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var data []T
	if err = yaml.Unmarshal(readBytes, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return data, nil
}
