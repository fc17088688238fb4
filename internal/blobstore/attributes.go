package blobstore

import (
	"encoding/json"

	"github.com/avesa-io/avesa/internal/model"
)

func encodeAttributes(rec model.RawRecord) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeAttributes(s string) (model.RawRecord, error) {
	var rec model.RawRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
