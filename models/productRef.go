package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProductRef is a product foreign key as it arrives on the wire. Older clients send
// a bare id (12 or "12"), newer ones send the resolved object {"id": 12, "name": "Bolt"}.
// Both decode to the same value; only Id is persisted.
type ProductRef struct {
	Id   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

func (r *ProductRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ProductRef{}
		return nil
	}

	switch data[0] {
	case '{':
		var obj struct {
			Id   json.RawMessage `json:"id"`
			Name string          `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		id, err := parseRefId(obj.Id)
		if err != nil {
			return err
		}
		*r = ProductRef{Id: id, Name: obj.Name}
		return nil
	default:
		id, err := parseRefId(data)
		if err != nil {
			return err
		}
		*r = ProductRef{Id: id}
		return nil
	}
}

func parseRefId(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid product reference %q", s)
	}
	return id, nil
}

func (r ProductRef) IsSet() bool {
	return r.Id > 0
}
