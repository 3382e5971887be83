// Package screen implements the page controllers behind the admin surface:
// list, form, and show. Each controller binds an entity definition to its
// manager and produces the state bundle a client renders from.
package screen

import (
	"fmt"
	"strings"

	"github.com/quazardous/qdadm/model"
)

// ResolveActions turns action definitions into descriptors: capability
// filtering first, then condition evaluation against the record. Conditions
// whose field is absent from the record pass through for client evaluation.
func ResolveActions(caps model.CapabilitySet, actions []model.ActionDefinition, rec model.Record) []model.ActionDescriptor {
	result := make([]model.ActionDescriptor, 0, len(actions))
	for _, action := range actions {
		if len(action.Capabilities) > 0 && !caps.HasAll(action.Capabilities...) {
			continue
		}

		desc := model.ActionDescriptor{
			ID:         action.ID,
			Label:      action.Label,
			Icon:       action.Icon,
			Style:      action.Style,
			Type:       action.Type,
			NavigateTo: action.NavigateTo,
			Enabled:    true,
			Visible:    true,
		}
		if action.Confirmation != nil {
			desc.Confirmation = &model.ConfirmationDescriptor{
				Title:   action.Confirmation.Title,
				Message: action.Confirmation.Message,
				Confirm: action.Confirmation.Confirm,
				Cancel:  action.Confirmation.Cancel,
				Style:   action.Confirmation.Style,
			}
		}

		var deferred []model.ConditionDefinition
		for _, cond := range action.Conditions {
			if rec == nil || !hasField(rec, cond) {
				deferred = append(deferred, cond)
				continue
			}
			applyEffect(&desc, cond.Effect, evalCondition(cond, rec))
		}
		desc.Conditions = deferred

		result = append(result, desc)
	}
	return result
}

func hasField(rec model.Record, cond model.ConditionDefinition) bool {
	_, exists := rec[cond.Field]
	// Existence operators are decidable even when the field is absent.
	return exists || cond.Operator == "exists" || cond.Operator == "not_exists"
}

func evalCondition(cond model.ConditionDefinition, rec model.Record) bool {
	v, exists := rec[cond.Field]

	switch cond.Operator {
	case "eq", "==":
		return exists && fmt.Sprint(v) == fmt.Sprint(cond.Value)
	case "neq", "!=":
		return !exists || fmt.Sprint(v) != fmt.Sprint(cond.Value)
	case "in":
		return exists && valueIn(v, cond.Value)
	case "not_in":
		return !exists || !valueIn(v, cond.Value)
	case "exists":
		return exists
	case "not_exists":
		return !exists
	}
	return false
}

func applyEffect(desc *model.ActionDescriptor, effect string, met bool) {
	switch effect {
	case "hide":
		if met {
			desc.Visible = false
		}
	case "show":
		if !met {
			desc.Visible = false
		}
	case "disable":
		if met {
			desc.Enabled = false
		}
	case "enable":
		if !met {
			desc.Enabled = false
		}
	}
}

// valueIn matches the field value against a slice or a comma-separated
// string of candidates.
func valueIn(fieldVal, candidates any) bool {
	want := fmt.Sprint(fieldVal)

	switch cv := candidates.(type) {
	case []any:
		for _, v := range cv {
			if fmt.Sprint(v) == want {
				return true
			}
		}
	case []string:
		for _, v := range cv {
			if v == want {
				return true
			}
		}
	case string:
		for _, v := range strings.Split(cv, ",") {
			if strings.TrimSpace(v) == want {
				return true
			}
		}
	}
	return false
}
