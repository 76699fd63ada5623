package remote

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"mvlease/internal/leasestore"
)

// Wire envelopes. Each travels as a structpb.Struct built from its JSON form, so the
// document layout on the wire is the same one the embedded backends store.

type findRequest struct {
	Filter     leasestore.Filter         `json:"filter"`
	Concern    leasestore.ReadConcern    `json:"readConcern"`
	Preference leasestore.ReadPreference `json:"readPreference"`
}

func (r findRequest) readOptions() leasestore.ReadOptions {
	return leasestore.ReadOptions{Concern: r.Concern, Preference: r.Preference}
}

type findOneResponse struct {
	Found    bool                 `json:"found"`
	Document *leasestore.Document `json:"document,omitempty"`
}

type findResponse struct {
	Documents []leasestore.Document `json:"documents"`
}

type replaceRequest struct {
	Filter   leasestore.Filter   `json:"filter"`
	Document leasestore.Document `json:"document"`
	Upsert   bool                `json:"upsert"`
}

type replaceResponse struct {
	MatchedCount  int64  `json:"matchedCount"`
	ModifiedCount int64  `json:"modifiedCount"`
	UpsertedID    string `json:"upsertedId,omitempty"`
}

type deleteRequest struct {
	Filter leasestore.Filter `json:"filter"`
}

type deleteResponse struct {
	DeletedCount int64 `json:"deletedCount"`
}

func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("remote: encode %T: %w", v, err)
	}
	return s, nil
}

func decode(s *structpb.Struct, out any) error {
	if s == nil {
		return fmt.Errorf("remote: decode %T: empty message", out)
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("remote: decode %T: %w", out, err)
	}
	return nil
}
