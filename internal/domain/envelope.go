package domain

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Envelope is the JSON wrapper the upstream decoder publishes for every
// decoded gateway message.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func DecodeEnvelope(raw []byte) (WorkItem, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	item, err := NewItem(env.Kind)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, item); err != nil {
			return nil, errors.Wrapf(err, "decode %s data", env.Kind)
		}
	}
	return item, nil
}

func EncodeEnvelope(item WorkItem) ([]byte, error) {
	if item == nil {
		return nil, errors.New("nil work item")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s data", item.Kind())
	}
	return json.Marshal(Envelope{Kind: item.Kind(), Data: data})
}
