package offline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Strategy selects how ResolveConflict reconciles two versions.
type Strategy string

const (
	StrategyLocal  Strategy = "local"
	StrategyServer Strategy = "server"
	StrategyMerge  Strategy = "merge"
)

// ErrUnknownStrategy is returned for a strategy other than local, server or
// merge.
var ErrUnknownStrategy = errors.New("unknown conflict strategy")

// ParseStrategy accepts a strategy name in any case.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyLocal, StrategyServer, StrategyMerge:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// lastModifiedKey is the field merge compares.
const lastModifiedKey = "lastModified"

// ResolveConflict picks or combines two versions of a record. Merge is
// shallow: it starts from server, overlays every local field, then sets
// lastModified to the larger of the two. Fields deleted on one side are
// restored from the other. Inputs are not modified.
func ResolveConflict(local, server map[string]any, strategy Strategy) (map[string]any, error) {
	switch strategy {
	case StrategyLocal:
		return copyMap(local), nil
	case StrategyServer:
		return copyMap(server), nil
	case StrategyMerge:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	out := copyMap(server)
	for k, v := range local {
		out[k] = v
	}
	lv, lok := numeric(local[lastModifiedKey])
	sv, sok := numeric(server[lastModifiedKey])
	switch {
	case lok && sok && sv > lv:
		out[lastModifiedKey] = server[lastModifiedKey]
	case !lok && sok:
		out[lastModifiedKey] = server[lastModifiedKey]
	}
	return out, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// numeric reads any JSON or Go number as float64.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ResolveContent applies ResolveConflict to two content shadows.
func ResolveContent(local, server ContentShadow, strategy Strategy) (ContentShadow, error) {
	lm, err := toMap(local)
	if err != nil {
		return ContentShadow{}, err
	}
	sm, err := toMap(server)
	if err != nil {
		return ContentShadow{}, err
	}
	merged, err := ResolveConflict(lm, sm, strategy)
	if err != nil {
		return ContentShadow{}, err
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return ContentShadow{}, fmt.Errorf("encode merged content: %w", err)
	}
	var out ContentShadow
	if err := json.Unmarshal(data, &out); err != nil {
		return ContentShadow{}, fmt.Errorf("decode merged content: %w", err)
	}
	return out, nil
}

func toMap(s ContentShadow) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return m, nil
}
