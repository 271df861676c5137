package streaming

import (
	"github.com/terrastream/mysql-cdc/lib/storage/persistedlist"
	"github.com/terrastream/mysql-cdc/sources/mysql/records"
)

// SchemaHistory is one DDL statement observed in the log, persisted in arrival
// order so a restore can replay schema evolution.
type SchemaHistory struct {
	Query  string `yaml:"query"`
	UnixTs int64  `yaml:"unixTs"`
}

type SchemaHistoryStore struct {
	list *persistedlist.PersistedList[SchemaHistory]
}

// NewSchemaHistoryStore returns a nil store when no file is configured; a nil
// store drops appends.
func NewSchemaHistoryStore(filePath string) *SchemaHistoryStore {
	if filePath == "" {
		return nil
	}
	return &SchemaHistoryStore{list: persistedlist.NewPersistedList[SchemaHistory](filePath)}
}

func (s *SchemaHistoryStore) Append(change records.SchemaChange) error {
	if s == nil {
		return nil
	}
	return s.list.Push(SchemaHistory{Query: change.DDL, UnixTs: change.TsMs / 1000})
}

func (s *SchemaHistoryStore) Entries() []SchemaHistory {
	if s == nil {
		return nil
	}
	return s.list.GetData()
}
