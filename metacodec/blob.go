package metacodec

import (
	"encoding/json"
	"fmt"

	"github.com/richinsley/sqnodes/provenance"
)

// MarshalRecord serializes the whole record as compact JSON. Field order is
// fixed by the struct, so equal records give equal bytes.
func MarshalRecord(r *provenance.Record) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord decodes a blob written by MarshalRecord. Anything that is
// not a JSON object is reported as ErrNoMetadata.
func UnmarshalRecord(b []byte) (*provenance.Record, error) {
	var r *provenance.Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", provenance.ErrNoMetadata, err)
	}
	if r == nil {
		return nil, provenance.ErrNoMetadata
	}
	return r, nil
}
