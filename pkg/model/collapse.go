package model

import (
	"encoding/binary"
	"math"
)

// CollapseVariants merges variants with identical metadata and events into a
// single variant whose Count is the sum of the merged counts. The first
// occurrence of each distinct variant keeps its position. A sum that would
// overflow uint32 starts a new variant instead, which later duplicates merge
// into.
func CollapseVariants(variants []TraceVariant) []TraceVariant {
	index := make(map[string]int, len(variants))
	out := make([]TraceVariant, 0, len(variants))

	var buf []byte
	for _, v := range variants {
		buf = appendVariantKey(buf[:0], &v)
		if i, ok := index[string(buf)]; ok && out[i].Count <= math.MaxUint32-v.Count {
			out[i].Count += v.Count
			continue
		}
		index[string(buf)] = len(out)
		out = append(out, v)
	}

	return out
}

func appendVariantKey(buf []byte, v *TraceVariant) []byte {
	buf = appendAttributesKey(buf, v.Metadata)
	buf = binary.AppendUvarint(buf, uint64(len(v.Events)))
	for i := range v.Events {
		e := &v.Events[i]
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timestamp))
		buf = appendKeyString(buf, e.Name)
		buf = appendAttributesKey(buf, e.Attributes)
	}
	return buf
}

func appendAttributesKey(buf []byte, attrs []Attribute) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(attrs)))
	for _, a := range attrs {
		buf = appendKeyString(buf, a.Key)
		buf = appendKey(buf, a.Value)
	}
	return buf
}
