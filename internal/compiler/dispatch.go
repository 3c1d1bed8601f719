package compiler

import (
	"fmt"

	"github.com/roach88/domino/internal/fx"
	"github.com/roach88/domino/internal/ir"
)

// staticRef is an event an effects object dispatches.
type staticRef struct {
	Key   string // effect key
	Field string // detailed location within the effects object
	Event string // event id, or the problem for malformed entries
}

// staticDispatches lists the events fx would dispatch and describes any
// dispatch effect whose value is malformed. Lua results are opaque and
// never inspected.
func staticDispatches(effects ir.IRObject) (refs []staticRef, problems []staticRef) {
	add := func(key, field string, v ir.IRValue) {
		ev, err := ir.ParseEvent(v)
		if err != nil {
			problems = append(problems, staticRef{Key: key, Field: field, Event: err.Error()})
			return
		}
		refs = append(refs, staticRef{Key: key, Field: field, Event: ev.ID})
	}

	if v, ok := effects[fx.EffectDispatch]; ok {
		add(fx.EffectDispatch, fx.EffectDispatch, v)
	}

	if v, ok := effects[fx.EffectDispatchN]; ok {
		list, isList := v.(ir.IRArray)
		if !isList {
			problems = append(problems, staticRef{Key: fx.EffectDispatchN, Field: fx.EffectDispatchN, Event: "expected array of events"})
		}
		for i, e := range list {
			if !ir.IsNull(e) {
				add(fx.EffectDispatchN, fmt.Sprintf("%s[%d]", fx.EffectDispatchN, i), e)
			}
		}
	}

	if v, ok := effects[fx.EffectDispatchLater]; ok {
		entries, isList := v.(ir.IRArray)
		if !isList {
			entries = ir.IRArray{v}
		}
		for i, entry := range entries {
			if ir.IsNull(entry) {
				continue
			}
			field := fmt.Sprintf("%s[%d]", fx.EffectDispatchLater, i)
			obj, ok := entry.(ir.IRObject)
			if !ok {
				problems = append(problems, staticRef{Key: fx.EffectDispatchLater, Field: field, Event: "expected {ms, dispatch} object"})
				continue
			}
			if _, ok := obj["ms"].(ir.IRInt); !ok {
				problems = append(problems, staticRef{Key: fx.EffectDispatchLater, Field: field + ".ms", Event: "ms must be an integer"})
			}
			add(fx.EffectDispatchLater, field+".dispatch", obj["dispatch"])
		}
	}
	return refs, problems
}
