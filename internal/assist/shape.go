package assist

import (
	"bytes"
	"encoding/json"

	"github.com/querypilot/querypilot/internal/api"
)

// Shaped is the outcome of interpreting a raw tool result. When the payload
// parsed as a JSON array of records, Table is set; otherwise Raw carries
// the original text unchanged.
type Shaped struct {
	Table *api.Table
	Raw   string
}

// Shape attempts to interpret a textual tool result as a JSON array of
// uniform records and, on success, produces a tabular structure whose
// column order follows the order keys first appear in the payload.
//
// Shape is total: malformed input of any kind falls back to the raw text,
// never an error. It has no side effects and is deterministic.
func Shape(text string) Shaped {
	raw := Shaped{Raw: text}

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(text), &elements); err != nil {
		return raw
	}
	if len(elements) == 0 {
		return raw
	}

	table := &api.Table{}
	seen := make(map[string]bool)

	for _, element := range elements {
		keys, err := objectKeys(element)
		if err != nil {
			return raw
		}
		var row map[string]any
		if err := json.Unmarshal(element, &row); err != nil {
			return raw
		}
		for _, key := range keys {
			if !seen[key] {
				seen[key] = true
				table.Columns = append(table.Columns, key)
			}
		}
		table.Rows = append(table.Rows, row)
	}

	return Shaped{Table: table, Raw: text}
}

// objectKeys returns the top-level keys of a JSON object in the order they
// appear in the text. Go maps do not preserve order, so the keys are read
// from the token stream directly.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, &json.UnmarshalTypeError{Value: "non-object array element"}
	}

	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, &json.UnmarshalTypeError{Value: "non-string object key"}
		}
		keys = append(keys, key)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// EncodeTable renders a table back into the JSON array-of-records form,
// writing keys in the table's column order. Rows missing a column omit the
// key rather than emitting null.
func EncodeTable(table *api.Table) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range table.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		first := true
		for _, col := range table.Columns {
			value, ok := row[col]
			if !ok {
				continue
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			key, err := json.Marshal(col)
			if err != nil {
				return "", err
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return "", err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(encoded)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.String(), nil
}
