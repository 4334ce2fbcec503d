package matcher

import (
	"encoding/json"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cachestore"
)

const (
	// queryLogCap bounds the persisted query history; oldest entries are
	// dropped first.
	queryLogCap = 1000
	detailCap   = 2000
)

// QueryLogRecord is one water-list lookup outcome, kept for inspection via
// the query command.
type QueryLogRecord struct {
	Key       string `json:"key"`
	Date      string `json:"date"`
	QueriedAt string `json:"queried_at"`
	Success   bool   `json:"success"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// LoadQueryLog reads the persisted lookup history, oldest first.
func LoadQueryLog(store *cachestore.Store) []QueryLogRecord {
	raw, ok := store.Read(cachestore.QueryLogKey)
	if !ok {
		return nil
	}
	var records []QueryLogRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil
	}
	return records
}

func appendQueryLog(store *cachestore.Store, rec QueryLogRecord) error {
	if len(rec.Detail) > detailCap {
		rec.Detail = rec.Detail[:detailCap]
	}
	records := append(LoadQueryLog(store), rec)
	if len(records) > queryLogCap {
		records = records[len(records)-queryLogCap:]
	}
	out, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return store.Write(cachestore.QueryLogKey, out)
}
