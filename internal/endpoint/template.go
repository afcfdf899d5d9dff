// Package endpoint renders `<placeholder>` templates from exchange
// configuration into concrete request payloads and push-feed control
// messages.
package endpoint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/google/uuid"
)

// Context is the case-sensitive key->value binding used to resolve
// `<key>` placeholders.
type Context map[string]string

// MissingKeysError lists every placeholder key with no binding,
// collected in one pass rather than failing on the first.
type MissingKeysError struct {
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("%v: %s", e.Keys, apperr.ErrMissingTemplateKeys)
}

// RenderString substitutes every `<key>` occurrence in template with
// ctx[key], scanning left to right. If any key has no binding,
// rendering fails with a MissingKeysError listing every missing key
// found, sorted for determinism. Idempotent on inputs with no `<`.
func RenderString(template string, ctx Context) (string, error) {
	var out strings.Builder
	missing := map[string]struct{}{}
	i := 0
	for i < len(template) {
		lt := strings.IndexByte(template[i:], '<')
		if lt < 0 {
			out.WriteString(template[i:])
			break
		}
		out.WriteString(template[i : i+lt])
		start := i + lt
		gt := strings.IndexByte(template[start:], '>')
		if gt < 0 {
			// Unterminated placeholder: pass the rest through unchanged.
			out.WriteString(template[start:])
			break
		}
		key := template[start+1 : start+gt]
		if v, ok := ctx[key]; ok {
			out.WriteString(v)
		} else {
			missing[key] = struct{}{}
		}
		i = start + gt + 1
	}
	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", apperr.New(apperr.KindConfig, "RenderString", &MissingKeysError{Keys: keys})
	}
	return out.String(), nil
}

// RenderQuery renders a table of (key, value-template) pairs into a
// list of resolved (key, value) pairs, preserving input order.
func RenderQuery(table [][2]string, ctx Context) ([][2]string, error) {
	out := make([][2]string, 0, len(table))
	var allMissing []string
	for _, kv := range table {
		v, err := RenderString(kv[1], ctx)
		if err != nil {
			var mk *MissingKeysError
			if e, ok := err.(*apperr.Error); ok {
				if m, ok2 := e.Err.(*MissingKeysError); ok2 {
					mk = m
				}
			}
			if mk != nil {
				allMissing = append(allMissing, mk.Keys...)
				continue
			}
			return nil, err
		}
		out = append(out, [2]string{kv[0], v})
	}
	if len(allMissing) > 0 {
		sort.Strings(allMissing)
		return nil, apperr.New(apperr.KindConfig, "RenderQuery", &MissingKeysError{Keys: allMissing})
	}
	return out, nil
}

// RenderJSON recursively renders every string scalar in value through
// RenderString; containers (map/slice) are recursed into, other
// scalars pass through unchanged. Missing keys across the whole tree
// are collected before failing.
func RenderJSON(value any, ctx Context) (any, error) {
	missing := map[string]struct{}{}
	result := renderJSONValue(value, ctx, missing)
	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, apperr.New(apperr.KindConfig, "RenderJSON", &MissingKeysError{Keys: keys})
	}
	return result, nil
}

func renderJSONValue(value any, ctx Context, missing map[string]struct{}) any {
	switch v := value.(type) {
	case string:
		out, err := RenderString(v, ctx)
		if err != nil {
			if me, ok := err.(*apperr.Error); ok {
				if mk, ok2 := me.Err.(*MissingKeysError); ok2 {
					for _, k := range mk.Keys {
						missing[k] = struct{}{}
					}
				}
			}
			return v
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			out[k] = renderJSONValue(vv, ctx, missing)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			out[i] = renderJSONValue(vv, ctx, missing)
		}
		return out
	default:
		return v
	}
}

// WsControl is the resolved pair of subscribe/unsubscribe control
// messages for a push-feed stream.
type WsControl struct {
	Subscribe   any
	Unsubscribe any
}

// ExchangeWsConfig is the declarative per-exchange template for
// subscribe/unsubscribe control messages; UseNonce selects whether a
// fresh client nonce (uuid) is bound into the context as "nonce"
// before rendering, for exchanges whose private-channel templates
// require one.
type ExchangeWsConfig struct {
	SubscribeTemplate   any
	UnsubscribeTemplate any
	UseNonce            bool
}

func ResolveWsControl(cfg ExchangeWsConfig, ctx Context) (WsControl, error) {
	renderCtx := ctx
	if cfg.UseNonce {
		renderCtx = make(Context, len(ctx)+1)
		for k, v := range ctx {
			renderCtx[k] = v
		}
		renderCtx["nonce"] = uuid.NewString()
	}
	sub, err := RenderJSON(cfg.SubscribeTemplate, renderCtx)
	if err != nil {
		return WsControl{}, err
	}
	unsub, err := RenderJSON(cfg.UnsubscribeTemplate, renderCtx)
	if err != nil {
		return WsControl{}, err
	}
	return WsControl{Subscribe: sub, Unsubscribe: unsub}, nil
}
