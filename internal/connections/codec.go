package connections

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"cabinmap/core-go/internal/meta"
)

// storedEdge is one decoded entry of a forward list. Entries are either a
// legacy bare id, whose kind must be probed, or a typed edge written with an
// explicit kind. raw keeps the original bytes so untouched entries are written
// back verbatim.
type storedEdge struct {
	raw    json.RawMessage
	legacy bool
	id     int64
	kind   meta.Kind
	typ    string
}

type edgeRecord struct {
	ID   int64     `json:"id"`
	Kind meta.Kind `json:"kind"`
	Type string    `json:"type"`
}

type termRecord struct {
	TermID   int64  `json:"term_id"`
	Taxonomy string `json:"taxonomy"`
}

// decodeList splits a stored JSON array into its elements. Anything that is
// not an array decodes to an empty list.
func decodeList(raw []byte) []json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

func encodeList(items []json.RawMessage) ([]byte, error) {
	if items == nil {
		items = []json.RawMessage{}
	}
	return json.Marshal(items)
}

// decodeEdges decodes a forward list. Entries that are neither a positive id
// nor an object with a positive id are dropped.
func decodeEdges(raw []byte) []storedEdge {
	items := decodeList(raw)
	out := make([]storedEdge, 0, len(items))
	for _, item := range items {
		if e, ok := decodeEdge(item); ok {
			out = append(out, e)
		}
	}
	return out
}

func decodeEdge(item json.RawMessage) (storedEdge, bool) {
	if id, ok := decodeID(item); ok {
		return storedEdge{raw: item, legacy: true, id: id}, true
	}

	var obj struct {
		ID   json.RawMessage `json:"id"`
		Kind string          `json:"kind"`
		Type string          `json:"type"`
	}
	if err := json.Unmarshal(item, &obj); err != nil {
		return storedEdge{}, false
	}
	id, ok := decodeID(obj.ID)
	if !ok {
		return storedEdge{}, false
	}

	kind, ok := meta.ParseKind(obj.Kind)
	if !ok || kind == meta.KindTerm {
		// Pre-discriminator typed entries only carry the type field.
		if obj.Type == meta.SubtypeAccount {
			kind = meta.KindAccount
		} else {
			kind = meta.KindContent
		}
	}
	typ := obj.Type
	if typ == "" && kind == meta.KindAccount {
		typ = meta.SubtypeAccount
	}
	return storedEdge{raw: item, id: id, kind: kind, typ: typ}, true
}

// decodeID accepts a JSON number or a numeric string holding a positive
// integer.
func decodeID(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(s)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func encodeEdge(c Connection) (json.RawMessage, error) {
	return json.Marshal(edgeRecord{ID: c.ID, Kind: c.Kind, Type: c.Type})
}

// decodeIDList decodes a reverse list of location ids.
func decodeIDList(raw []byte) []int64 {
	items := decodeList(raw)
	out := make([]int64, 0, len(items))
	for _, item := range items {
		if id, ok := decodeID(item); ok {
			out = append(out, id)
		}
	}
	return out
}

func encodeIDList(ids []int64) ([]byte, error) {
	if ids == nil {
		ids = []int64{}
	}
	return json.Marshal(ids)
}

// storedTerm is one decoded entry of a term list. Bare ids are legacy entries
// whose taxonomy must be looked up.
type storedTerm struct {
	raw      json.RawMessage
	legacy   bool
	termID   int64
	taxonomy string
}

func decodeTerms(raw []byte) []storedTerm {
	items := decodeList(raw)
	out := make([]storedTerm, 0, len(items))
	for _, item := range items {
		if id, ok := decodeID(item); ok {
			out = append(out, storedTerm{raw: item, legacy: true, termID: id})
			continue
		}
		var obj struct {
			TermID   json.RawMessage `json:"term_id"`
			Taxonomy string          `json:"taxonomy"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		id, ok := decodeID(obj.TermID)
		if !ok {
			continue
		}
		out = append(out, storedTerm{raw: item, termID: id, taxonomy: obj.Taxonomy})
	}
	return out
}

func encodeTerm(tc TermConnection) (json.RawMessage, error) {
	return json.Marshal(termRecord{TermID: tc.TermID, Taxonomy: tc.Taxonomy})
}
