// Package snapshot encodes and decodes full-database snapshots: a
// point-in-time copy of every task, used to bound how much history a
// replica has to pull after being offline for a long time.
package snapshot

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"fmt"
	"io"

	"github.com/taskchampion/tc/pkg/types"
)

// Encode serializes tasks to JSON and deflate-compresses the result.
// The wire format is intentionally plain: a compressed JSON object is
// easy to inspect by hand when debugging a sync problem.
func Encode(tasks map[types.Uuid]types.TaskMap) ([]byte, error) {
	raw, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot compressor: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing snapshot: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(data []byte) (map[types.Uuid]types.TaskMap, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}

	var tasks map[types.Uuid]types.TaskMap
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return tasks, nil
}
