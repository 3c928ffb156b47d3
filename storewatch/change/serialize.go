package change

import "encoding/json"

// MarshalBatch serialises a Batch to JSON.
func MarshalBatch(b *Batch) ([]byte, error) {
	return json.Marshal(b)
}

// UnmarshalBatch deserialises a Batch from JSON.
func UnmarshalBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// UnmarshalRecords decodes a JSON array of records and drops entries that
// violate the key invariant. It is used when hydrating persisted logs.
func UnmarshalRecords(data []byte) ([]Record, error) {
	var raw []Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := raw[:0]
	for _, r := range raw {
		if r.Validate() == nil {
			out = append(out, r)
		}
	}
	return out, nil
}
