package core

import (
	"strings"
)

// DefaultFieldPrefix is prepended to rule keys that have no alias and no path separator.
const DefaultFieldPrefix = "Event.EventData"

// DefaultFieldAliases maps short rule keys to record paths for fields that
// live outside Event.EventData.
var DefaultFieldAliases = map[string]string{
	"EventID":       "Event.System.EventID",
	"Channel":       "Event.System.Channel",
	"Computer":      "Event.System.Computer",
	"Provider_Name": "Event.System.Provider_attributes.Name",
	"RecordID":      "Event.System.EventRecordID",
	"Level":         "Event.System.Level",
	"Keywords":      "Event.System.Keywords",
	"Task":          "Event.System.Task",
	"UserID":        "Event.System.Security_attributes.UserID",
	"ProcessID":     "Event.System.Execution_attributes.ProcessID",
	"ThreadID":      "Event.System.Execution_attributes.ThreadID",
	"SystemTime":    "Event.System.TimeCreated_attributes.SystemTime",
	"Payload":       "Event.EventData.Payload",
	"UserData":      "Event.UserData",
}

// FieldResolver maps rule keys to record paths and reads values from raw records.
type FieldResolver struct {
	aliases map[string][]string
	prefix  []string
}

// NewFieldResolver builds a resolver. Entries in aliases override the defaults.
// An empty prefix falls back to DefaultFieldPrefix.
func NewFieldResolver(aliases map[string]string, prefix string) *FieldResolver {
	if prefix == "" {
		prefix = DefaultFieldPrefix
	}
	r := &FieldResolver{
		aliases: make(map[string][]string, len(DefaultFieldAliases)+len(aliases)),
		prefix:  strings.Split(prefix, "."),
	}
	for k, v := range DefaultFieldAliases {
		r.aliases[k] = strings.Split(v, ".")
	}
	for k, v := range aliases {
		r.aliases[k] = strings.Split(v, ".")
	}
	return r
}

// Path returns the record path segments for a rule key.
func (r *FieldResolver) Path(key string) []string {
	if p, ok := r.aliases[key]; ok {
		return p
	}
	if strings.Contains(key, ".") {
		return strings.Split(key, ".")
	}
	path := make([]string, 0, len(r.prefix)+1)
	path = append(path, r.prefix...)
	return append(path, key)
}

// Lookup reads the value for key from rec. Values wrapped as {"#text": v}
// are unwrapped.
func (r *FieldResolver) Lookup(rec RawRecord, key string) (interface{}, bool) {
	return lookupPath(rec, r.Path(key))
}

func lookupPath(rec map[string]interface{}, path []string) (interface{}, bool) {
	current := rec
	for i, part := range path {
		next, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			if m, isMap := next.(map[string]interface{}); isMap {
				if text, hasText := m["#text"]; hasText {
					return text, true
				}
			}
			return next, next != nil
		}
		nextMap, ok := next.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = nextMap
	}
	return nil, false
}
