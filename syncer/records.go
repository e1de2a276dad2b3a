package syncer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loomhq/loom/canonical"
)

// externalIDKeys are checked in order, case-insensitively, to resolve the
// source identifier of a record.
var externalIDKeys = []string{"id", "externalId", "external_id"}

// rawRecord is one element of an external response body. A malformed
// element carries its decode error instead of data so the batch can record
// it as failed without dropping its neighbors.
type rawRecord struct {
	data canonical.Payload
	err  error
}

// parseRecords decodes an external response body into individual records.
// The body must be a JSON array; elements are decoded independently so one
// bad element never aborts the batch.
func parseRecords(body []byte) ([]rawRecord, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, fmt.Errorf("syncer: parse response: expected a JSON array of records: %w", err)
	}
	recs := make([]rawRecord, 0, len(elems))
	for _, elem := range elems {
		var data canonical.Payload
		if err := json.Unmarshal(elem, &data); err != nil {
			recs = append(recs, rawRecord{err: fmt.Errorf("record is not a JSON object: %w", err)})
			continue
		}
		recs = append(recs, rawRecord{data: data})
	}
	return recs, nil
}

// lookupField finds a key in a record, preferring an exact match and
// falling back to case-insensitive comparison. External systems disagree
// on property casing, so matching is forgiving here.
func lookupField(rec canonical.Payload, key string) (canonical.Value, bool) {
	if v, ok := rec[key]; ok {
		return v, true
	}
	for k, v := range rec {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return canonical.Null, false
}

// applyFieldMap renames mapped external fields to their staging names.
// Unmapped fields are preserved under their original keys so nothing is
// silently dropped.
func applyFieldMap(rec canonical.Payload, fieldMap map[string]string) canonical.Payload {
	if len(fieldMap) == 0 {
		return rec
	}

	out := make(canonical.Payload, len(rec))
	renamed := make(map[string]bool, len(fieldMap))
	for external, target := range fieldMap {
		v, ok := lookupField(rec, external)
		if !ok {
			continue
		}
		out[target] = v
		renamed[strings.ToLower(external)] = true
	}
	for k, v := range rec {
		if !renamed[strings.ToLower(k)] {
			out[k] = v
		}
	}
	return out
}

// resolveExternalID extracts the source identifier from a record.
func resolveExternalID(rec canonical.Payload) string {
	for _, key := range externalIDKeys {
		if v, ok := lookupField(rec, key); ok && !v.IsNull() {
			return v.Text()
		}
	}
	return ""
}
