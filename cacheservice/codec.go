package cacheservice

import (
	"fmt"

	"github.com/goccy/go-json"
)

// wireRecord is Record's on-the-wire shape for remote/cold storage,
// following blueberrycongee-llmux/caches/redis/redis.go's json.Marshal/
// Unmarshal round trip (via the drop-in goccy/go-json encoder it uses).
type wireRecord struct {
	TargetURL   string `json:"u"`
	CreatedUnix int64  `json:"t"`
}

func encodeRecord(r Record) []byte {
	b, err := json.Marshal(wireRecord{TargetURL: r.TargetURL, CreatedUnix: r.CreatedUnix})
	if err != nil {
		// wireRecord has no types json.Marshal can fail on; unreachable
		// in practice, but fail loud rather than store a truncated value.
		panic(fmt.Sprintf("cacheservice: encode record: %v", err))
	}
	return b
}

func decodeRecord(code string, raw []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return Record{}, err
	}
	return Record{Code: code, TargetURL: w.TargetURL, CreatedUnix: w.CreatedUnix}, nil
}
