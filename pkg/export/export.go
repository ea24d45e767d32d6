// Package export flattens bxes event logs into analytical formats.
package export

import (
	"encoding/json"

	"github.com/logflow/bxes/pkg/model"
)

// Config holds exporter configuration.
type Config struct {
	// BatchSize is the number of events per record batch.
	BatchSize int

	// Compression type for Parquet output.
	Compression CompressionType

	// ExpandVariants writes each event once per trace of its variant
	// instead of once with the trace count.
	ExpandVariants bool
}

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
	CompressionLZ4
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:   8192,
		Compression: CompressionSnappy,
	}
}

// attributeJSON is the exported form of one attribute.
type attributeJSON struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// AttributesJSON renders attributes as a JSON array of {key, type, value}.
// Numbers and booleans stay native; everything else is rendered as text,
// except artifacts and drivers which keep their structure.
func AttributesJSON(attrs []model.Attribute) (string, error) {
	out := make([]attributeJSON, len(attrs))
	for i, a := range attrs {
		out[i] = attributeJSON{Key: a.Key, Type: a.Value.TypeID().String(), Value: jsonValue(a.Value)}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func jsonValue(v model.Value) any {
	switch v := v.(type) {
	case model.Null:
		return nil
	case model.Int32:
		return int32(v)
	case model.Int64:
		return int64(v)
	case model.Uint32:
		return uint32(v)
	case model.Uint64:
		return uint64(v)
	case model.Bool:
		return bool(v)
	case model.Float32, model.Float64:
		// NaN and infinities are not valid JSON numbers.
		return v.String()
	case model.Artifact:
		items := make([]map[string]string, len(v))
		for i, it := range v {
			items[i] = map[string]string{"model": it.Model, "instance": it.Instance, "transition": it.Transition}
		}
		return items
	case model.Drivers:
		items := make([]map[string]any, len(v))
		for i, d := range v {
			items[i] = map[string]any{"amount": d.Amount, "name": d.Name, "type": d.Type}
		}
		return items
	default:
		return v.String()
	}
}
