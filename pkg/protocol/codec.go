// Package protocol implements the line-oriented chat wire protocol.
//
// A text frame is one line of `|`-separated `key:value` fields, for example
// `type:login|username:alice`. The codec does not escape: values must not
// contain `|`. Binary frames carry an AudioFrame encoded with the protobuf
// wire format.
package protocol

import (
	"sort"
	"strings"
)

const (
	// FieldSeparator separates fields on a line.
	FieldSeparator = "|"
	// KeyValueSeparator separates a key from its value. Only the first
	// occurrence in a field is significant.
	KeyValueSeparator = ":"
)

// Fields holds the key/value pairs of one wire line.
type Fields map[string]string

// Type returns the message type, or "" when the line has none.
func (f Fields) Type() MessageType {
	return MessageType(f[KeyType])
}

// Get returns the value for key, or "" when absent.
func (f Fields) Get(key string) string {
	return f[key]
}

// String implements fmt.Stringer by encoding the fields.
func (f Fields) String() string {
	return Encode(f)
}

// Decode parses one wire line into fields.
// Malformed fields (no separator, empty key) are dropped; the rest of the
// line is still usable.
func Decode(line string) Fields {
	line = strings.TrimRight(line, "\r\n")
	fields := make(Fields)
	for _, segment := range strings.Split(line, FieldSeparator) {
		key, value, ok := strings.Cut(segment, KeyValueSeparator)
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}

// Encode serializes fields into one wire line without a trailing newline.
// The type field comes first and the remaining keys are sorted so the
// output is deterministic.
func Encode(fields Fields) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if key != KeyType {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	if t, ok := fields[KeyType]; ok {
		b.WriteString(KeyType)
		b.WriteString(KeyValueSeparator)
		b.WriteString(t)
	}
	for _, key := range keys {
		if b.Len() > 0 {
			b.WriteString(FieldSeparator)
		}
		b.WriteString(key)
		b.WriteString(KeyValueSeparator)
		b.WriteString(fields[key])
	}
	return b.String()
}

// JoinList joins list values with commas, the list encoding used by
// online_users, groups_list and group_members.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

// SplitList is the inverse of JoinList. An empty value yields nil.
func SplitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}
