package composition

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParamRole classifies a node-function parameter.
type ParamRole int

const (
	RoleUnknown ParamRole = iota
	RoleInputData
	RoleInputEvent
	RoleOutputData
	RoleOutputEvent
	RoleOutputTrigger
	RoleInstanceData
	RoleCompositionState
)

func (r ParamRole) String() string {
	switch r {
	case RoleInputData:
		return "input data"
	case RoleInputEvent:
		return "input event"
	case RoleOutputData:
		return "output data"
	case RoleOutputEvent:
		return "output event"
	case RoleOutputTrigger:
		return "output trigger"
	case RoleInstanceData:
		return "instance data"
	case RoleCompositionState:
		return "composition state"
	}
	return "unknown"
}

// ParamInfo is the parsed role of one function parameter, recovered from
// the annotation strings attached at class-build time.
type ParamInfo struct {
	Param *ParamDescriptor
	Index int
	Role  ParamRole

	// PortName is the port this parameter reads or writes. Defaults to
	// the parameter name; event parameters annotated with a "data" detail
	// share their data parameter's port.
	PortName string

	// TriggerName is set for RoleOutputTrigger.
	TriggerName string

	// TypeName is the declared data type, from vuoType:.
	TypeName string

	// Details carries display hints from vuoDetails:.
	Details map[string]any
}

// Annotation name constants. These are the strings attached to function
// parameters when a node-class module is built.
const (
	annotationInputData     = "vuoInputData"
	annotationInputEvent    = "vuoInputEvent"
	annotationOutputData    = "vuoOutputData"
	annotationOutputEvent   = "vuoOutputEvent"
	annotationOutputTrigger = "vuoOutputTrigger:"
	annotationInstanceData  = "vuoInstanceData"
	// Generated subcomposition entry points take the child composition
	// state as a leading parameter.
	annotationCompositionState = "vuoCompositionState"
	annotationType             = "vuoType:"
	annotationDetails          = "vuoDetails:"
)

// ParseParamRoles recovers each parameter's role from its annotations.
// The result is cached on the descriptor. Returns an error when a
// parameter has no recognizable role annotation or its details fail to
// parse; unrecognized annotation strings on an otherwise-tagged parameter
// are ignored.
func ParseParamRoles(fn *FunctionDescriptor) ([]*ParamInfo, error) {
	if fn.roles != nil {
		return fn.roles, nil
	}

	ft := fn.Type()
	if ft == nil || ft.Kind() == 0 {
		return nil, fmt.Errorf("function %s has no implementation", fn.Name)
	}
	// A descriptor may cover more than one Go parameter (split-pair
	// struct lowering), so descriptors can undercount but never exceed
	// the function's parameters.
	if len(fn.Params) > ft.NumIn() {
		return nil, fmt.Errorf("function %s declares %d parameters but has %d descriptors",
			fn.Name, ft.NumIn(), len(fn.Params))
	}

	var infos []*ParamInfo
	for i, param := range fn.Params {
		info := &ParamInfo{Param: param, Index: i, PortName: param.Name}

		for _, a := range param.Annotations {
			switch {
			case a == annotationInputData:
				info.Role = RoleInputData
			case a == annotationInputEvent:
				info.Role = RoleInputEvent
			case a == annotationOutputData:
				info.Role = RoleOutputData
			case a == annotationOutputEvent:
				info.Role = RoleOutputEvent
			case a == annotationInstanceData:
				info.Role = RoleInstanceData
			case a == annotationCompositionState:
				info.Role = RoleCompositionState
			case strings.HasPrefix(a, annotationOutputTrigger):
				info.Role = RoleOutputTrigger
				info.TriggerName = strings.TrimPrefix(a, annotationOutputTrigger)
				info.PortName = info.TriggerName
			case strings.HasPrefix(a, annotationType):
				info.TypeName = strings.TrimPrefix(a, annotationType)
			case strings.HasPrefix(a, annotationDetails):
				raw := strings.TrimPrefix(a, annotationDetails)
				var details map[string]any
				if err := json.Unmarshal([]byte(raw), &details); err != nil {
					return nil, fmt.Errorf("function %s parameter %s: malformed details annotation: %w",
						fn.Name, param.Name, err)
				}
				info.Details = details
			}
		}

		if info.Role == RoleUnknown {
			return nil, fmt.Errorf("function %s parameter %s has no role annotation",
				fn.Name, param.Name)
		}

		// An event parameter may name the data port it accompanies.
		if info.Role == RoleInputEvent || info.Role == RoleOutputEvent {
			if dataPort, ok := info.Details["data"].(string); ok && dataPort != "" {
				info.PortName = dataPort
			} else {
				// "fooEvent" accompanies port "foo" by convention.
				info.PortName = strings.TrimSuffix(param.Name, "Event")
			}
		}

		infos = append(infos, info)
	}

	fn.roles = infos
	return infos, nil
}
