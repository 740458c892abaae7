package domain

import (
	"dario.cat/mergo"
	json "github.com/goccy/go-json"
)

// MergeDocuments applies a PATCH body onto the current document state. Object
// patches merge field-wise with the patch winning, array patches append,
// anything else replaces.
func MergeDocuments(current, patch json.RawMessage) (json.RawMessage, error) {
	if len(current) == 0 {
		return patch, nil
	}

	if len(patch) == 0 {
		return current, nil
	}

	var currentData, patchData interface{}

	if err := json.Unmarshal(current, &currentData); err != nil {
		return nil, Error{Type: ErrorTypeValidation, Message: "merge: current document is not valid JSON"}
	}

	if err := json.Unmarshal(patch, &patchData); err != nil {
		return nil, Error{Type: ErrorTypeValidation, Message: "merge: patch body is not valid JSON"}
	}

	switch {
	case isObject(currentData) && isObject(patchData):
		currentMap := currentData.(map[string]interface{})
		patchMap := patchData.(map[string]interface{})

		if err := mergo.Merge(&currentMap, patchMap,
			mergo.WithOverride,
			mergo.WithAppendSlice); err != nil {
			return nil, Error{Type: ErrorTypeInternal, Message: "merge: " + err.Error()}
		}

		merged, err := json.Marshal(currentMap)
		if err != nil {
			return nil, Error{Type: ErrorTypeInternal, Message: "merge: " + err.Error()}
		}
		return merged, nil

	case isArray(currentData) && isArray(patchData):
		currentSlice := currentData.([]interface{})
		patchSlice := patchData.([]interface{})

		merged := make([]interface{}, 0, len(currentSlice)+len(patchSlice))
		merged = append(merged, currentSlice...)
		merged = append(merged, patchSlice...)

		mergedBytes, err := json.Marshal(merged)
		if err != nil {
			return nil, Error{Type: ErrorTypeInternal, Message: "merge: " + err.Error()}
		}
		return mergedBytes, nil

	default:
		return patch, nil
	}
}

func isObject(v interface{}) bool {
	_, ok := v.(map[string]interface{})
	return ok
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}
