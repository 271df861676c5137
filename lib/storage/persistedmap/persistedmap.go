package persistedmap

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/terrastream/mysql-cdc/lib/logger"
)

// PersistedMap is a string-keyed map flushed to a YAML file on every write.
// It backs small amounts of durable state (offsets, checkpoint payloads).
type PersistedMap[T any] struct {
	filePath string

	mu   sync.Mutex
	data map[string]T
}

func NewPersistedMap[T any](filePath string) *PersistedMap[T] {
	persistedMap := &PersistedMap[T]{
		filePath: filePath,
		data:     make(map[string]T),
	}

	data, err := loadFromFile[T](filePath)
	if err != nil {
		logger.Panic("Failed to load persisted map from filepath", slog.Any("err", err))
	}

	if len(data) > 0 {
		persistedMap.data = data
	}

	return persistedMap
}

func (p *PersistedMap[T]) Set(key string, value T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data[key] = value
	return p.flush()
}

func (p *PersistedMap[T]) Get(key string) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	value, isOk := p.data[key]
	return value, isOk
}

func (p *PersistedMap[T]) flush() error {
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

func loadFromFile[T any](filePath string) (map[string]T, error) {
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

	var data map[string]T
	if err = yaml.Unmarshal(readBytes, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return data, nil
}
