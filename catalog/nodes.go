package catalog

import (
	"reflect"
	"sync"
	"time"

	"github.com/patchwork-dev/patchwork/composition"
)

// ShareIntegerClass returns pw.data.share.integer: passes its input
// through unchanged.
func ShareIntegerClass() *composition.NodeClass {
	return &composition.NodeClass{
		Name:  "pw.data.share.integer",
		Title: "Share Value",
		InputPortClasses: []*composition.PortClass{
			{Name: "value", Direction: composition.Input, Kind: composition.DataAndEvent, Type: integerType},
		},
		OutputPortClasses: []*composition.PortClass{
			{Name: "sameValue", Direction: composition.Output, Kind: composition.DataAndEvent, Type: integerType},
		},
		Module: &composition.ModuleDescriptor{
			Key: "pw_data_share_integer",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func(value int64, sameValue *int64) {
						*sameValue = value
					},
					Params: []*composition.ParamDescriptor{
						{Name: "value", Annotations: []string{"vuoInputData", "vuoType:pw.integer"}},
						{Name: "sameValue", Annotations: []string{"vuoOutputData", "vuoType:pw.integer"}},
					},
				},
			},
		},
	}
}

// AddIntegersClass returns pw.math.add.integer: sum = a + b.
func AddIntegersClass() *composition.NodeClass {
	return &composition.NodeClass{
		Name:  "pw.math.add.integer",
		Title: "Add",
		InputPortClasses: []*composition.PortClass{
			{Name: "a", Direction: composition.Input, Kind: composition.DataAndEvent, Type: integerType},
			{Name: "b", Direction: composition.Input, Kind: composition.DataAndEvent, Type: integerType},
		},
		OutputPortClasses: []*composition.PortClass{
			{Name: "sum", Direction: composition.Output, Kind: composition.DataAndEvent, Type: integerType},
		},
		Module: &composition.ModuleDescriptor{
			Key: "pw_math_add_integer",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func(a, b int64, sum *int64) {
						*sum = a + b
					},
					Params: []*composition.ParamDescriptor{
						{Name: "a", Annotations: []string{"vuoInputData", "vuoType:pw.integer"}},
						{Name: "b", Annotations: []string{"vuoInputData", "vuoType:pw.integer"}},
						{Name: "sum", Annotations: []string{"vuoOutputData", "vuoType:pw.integer"}},
					},
				},
			},
		},
	}
}

// CountClass returns pw.math.count: a stateful counter incremented by
// each event into its increment port.
func CountClass() *composition.NodeClass {
	return &composition.NodeClass{
		Name:     "pw.math.count",
		Title:    "Count",
		Stateful: true,
		InputPortClasses: []*composition.PortClass{
			{Name: "increment", Direction: composition.Input, Kind: composition.DataAndEvent, Type: integerType, InitialValue: "1"},
			{Name: "setCount", Direction: composition.Input, Kind: composition.DataAndEvent, Type: integerType, EventBlocking: composition.BlockingWall},
		},
		OutputPortClasses: []*composition.PortClass{
			{Name: "count", Direction: composition.Output, Kind: composition.DataAndEvent, Type: integerType},
		},
		InstanceDataType: reflect.TypeOf(int64(0)),
		Module: &composition.ModuleDescriptor{
			Key: "pw_math_count",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeInstanceInit: {
					Name: composition.FuncNodeInstanceInit,
					Impl: func(instance *int64, setCount int64) {
						*instance = setCount
					},
					Params: []*composition.ParamDescriptor{
						{Name: "instance", Annotations: []string{"vuoInstanceData"}},
						{Name: "setCount", Annotations: []string{"vuoInputData", "vuoType:pw.integer"}},
					},
				},
				composition.FuncNodeInstanceEvent: {
					Name: composition.FuncNodeInstanceEvent,
					Impl: func(instance *int64, increment int64, incrementEvent bool, setCount int64, setCountEvent bool, count *int64) {
						if setCountEvent {
							*instance = setCount
						}
						if incrementEvent {
							*instance += increment
						}
						*count = *instance
					},
					Params: []*composition.ParamDescriptor{
						{Name: "instance", Annotations: []string{"vuoInstanceData"}},
						{Name: "increment", Annotations: []string{"vuoInputData", "vuoType:pw.integer"}},
						{Name: "incrementEvent", Annotations: []string{"vuoInputEvent", `vuoDetails:{"data":"increment"}`}},
						{Name: "setCount", Annotations: []string{"vuoInputData", "vuoType:pw.integer"}},
						{Name: "setCountEvent", Annotations: []string{"vuoInputEvent", `vuoDetails:{"data":"setCount"}`}},
						{Name: "count", Annotations: []string{"vuoOutputData", "vuoType:pw.integer"}},
					},
				},
			},
		},
	}
}

// FireOnStartClass returns pw.event.fireOnStart: fires its trigger once
// when callbacks start.
func FireOnStartClass() *composition.NodeClass {
	return &composition.NodeClass{
		Name:     "pw.event.fireOnStart",
		Title:    "Fire on Start",
		Stateful: true,
		OutputPortClasses: []*composition.PortClass{
			{Name: "started", Direction: composition.Output, Kind: composition.TriggerPort},
		},
		InstanceDataType: reflect.TypeOf(false),
		Module: &composition.ModuleDescriptor{
			Key: "pw_event_fireOnStart",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeInstanceInit: {
					Name: composition.FuncNodeInstanceInit,
					Impl: func(instance *bool) { *instance = false },
					Params: []*composition.ParamDescriptor{
						{Name: "instance", Annotations: []string{"vuoInstanceData"}},
					},
				},
				composition.FuncNodeInstanceEvent: {
					Name:   composition.FuncNodeInstanceEvent,
					Impl:   func(instance *bool) {},
					Params: []*composition.ParamDescriptor{{Name: "instance", Annotations: []string{"vuoInstanceData"}}},
				},
				composition.FuncNodeInstanceTriggerStart: {
					Name: composition.FuncNodeInstanceTriggerStart,
					Impl: func(instance *bool, started func()) {
						if !*instance {
							*instance = true
							go started()
						}
					},
					Params: []*composition.ParamDescriptor{
						{Name: "instance", Annotations: []string{"vuoInstanceData"}},
						{Name: "started", Annotations: []string{"vuoOutputTrigger:started"}},
					},
				},
				composition.FuncNodeInstanceTriggerStop: {
					Name:   composition.FuncNodeInstanceTriggerStop,
					Impl:   func(instance *bool) {},
					Params: []*composition.ParamDescriptor{{Name: "instance", Annotations: []string{"vuoInstanceData"}}},
				},
			},
		},
	}
}

// periodicState is the instance data of pw.time.firePeriodically.
type periodicState struct {
	mu   sync.Mutex
	stop chan struct{}
}

// FirePeriodicallyClass returns pw.time.firePeriodically: fires its
// trigger on a wall-clock interval between callbackStart and
// callbackStop. The trigger drops events under back-pressure.
func FirePeriodicallyClass() *composition.NodeClass {
	return &composition.NodeClass{
		Name:     "pw.time.firePeriodically",
		Title:    "Fire Periodically",
		Stateful: true,
		InputPortClasses: []*composition.PortClass{
			{Name: "seconds", Direction: composition.Input, Kind: composition.DataAndEvent, Type: realType, InitialValue: "1"},
		},
		OutputPortClasses: []*composition.PortClass{
			{Name: "fired", Direction: composition.Output, Kind: composition.TriggerPort, Throttling: composition.ThrottleDrop},
		},
		InstanceDataType: reflect.TypeOf((*periodicState)(nil)),
		Module: &composition.ModuleDescriptor{
			Key: "pw_time_firePeriodically",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeInstanceInit: {
					Name: composition.FuncNodeInstanceInit,
					Impl: func(instance **periodicState) {
						*instance = &periodicState{}
					},
					Params: []*composition.ParamDescriptor{
						{Name: "instance", Annotations: []string{"vuoInstanceData"}},
					},
				},
				composition.FuncNodeInstanceEvent: {
					Name:   composition.FuncNodeInstanceEvent,
					Impl:   func(instance **periodicState, seconds float64) {},
					Params: []*composition.ParamDescriptor{
						{Name: "instance", Annotations: []string{"vuoInstanceData"}},
						{Name: "seconds", Annotations: []string{"vuoInputData", "vuoType:pw.real"}},
					},
				},
				composition.FuncNodeInstanceTriggerStart: {
					Name: composition.FuncNodeInstanceTriggerStart,
					Impl: func(instance **periodicState, seconds float64, fired func()) {
						state := *instance
						state.mu.Lock()
						if state.stop != nil {
							state.mu.Unlock()
							return
						}
						stop := make(chan struct{})
						state.stop = stop
						state.mu.Unlock()

						interval := time.Duration(seconds * float64(time.Second))
						if interval <= 0 {
							interval = time.Second
						}
						go func() {
							ticker := time.NewTicker(interval)
							defer ticker.Stop()
							for {
								select {
								case <-stop:
									return
								case <-ticker.C:
									fired()
								}
							}
						}()
					},
					Params: []*composition.ParamDescriptor{
						{Name: "instance", Annotations: []string{"vuoInstanceData"}},
						{Name: "seconds", Annotations: []string{"vuoInputData", "vuoType:pw.real"}},
						{Name: "fired", Annotations: []string{"vuoOutputTrigger:fired"}},
					},
				},
				composition.FuncNodeInstanceTriggerStop: {
					Name: composition.FuncNodeInstanceTriggerStop,
					Impl: func(instance **periodicState) {
						state := *instance
						state.mu.Lock()
						if state.stop != nil {
							close(state.stop)
							state.stop = nil
						}
						state.mu.Unlock()
					},
					Params: []*composition.ParamDescriptor{
						{Name: "instance", Annotations: []string{"vuoInstanceData"}},
					},
				},
			},
		},
	}
}

// SpinOffEventClass returns pw.event.spinOff: fires a fresh event in
// response to each incoming one. Its event IDs are recorded as
// descendants of the originating event.
func SpinOffEventClass() *composition.NodeClass {
	return &composition.NodeClass{
		Name:  "pw.event.spinOff",
		Title: "Spin Off Event",
		OutputPortClasses: []*composition.PortClass{
			{Name: "spunOff", Direction: composition.Output, Kind: composition.TriggerPort},
		},
		Module: &composition.ModuleDescriptor{
			Key: "pw_event_spinOff",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func(spunOff func()) {
						go spunOff()
					},
					Params: []*composition.ParamDescriptor{
						{Name: "spunOff", Annotations: []string{"vuoOutputTrigger:spunOff"}},
					},
				},
			},
		},
	}
}

// HoldIntegerClass returns pw.data.hold.integer: events into its update
// port pass through carrying the held value; events into newValue stop at
// the wall.
func HoldIntegerClass() *composition.NodeClass {
	return &composition.NodeClass{
		Name:  "pw.data.hold.integer",
		Title: "Hold Value",
		InputPortClasses: []*composition.PortClass{
			{Name: "update", Direction: composition.Input, Kind: composition.EventOnly},
			{Name: "newValue", Direction: composition.Input, Kind: composition.DataAndEvent, Type: integerType, EventBlocking: composition.BlockingWall},
		},
		OutputPortClasses: []*composition.PortClass{
			{Name: "heldValue", Direction: composition.Output, Kind: composition.DataAndEvent, Type: integerType},
		},
		Module: &composition.ModuleDescriptor{
			Key: "pw_data_hold_integer",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func(updateEvent bool, newValue int64, heldValue *int64) {
						*heldValue = newValue
					},
					Params: []*composition.ParamDescriptor{
						{Name: "updateEvent", Annotations: []string{"vuoInputEvent", `vuoDetails:{"data":"update"}`}},
						{Name: "newValue", Annotations: []string{"vuoInputData", "vuoType:pw.integer"}},
						{Name: "heldValue", Annotations: []string{"vuoOutputData", "vuoType:pw.integer"}},
					},
				},
			},
		},
	}
}

// MakePointClass returns pw.point.make: assembles a point from two
// reals. Its output parameter exercises the out-parameter lowering for
// struct types.
func MakePointClass() *composition.NodeClass {
	return &composition.NodeClass{
		Name:  "pw.point.make",
		Title: "Make Point",
		InputPortClasses: []*composition.PortClass{
			{Name: "x", Direction: composition.Input, Kind: composition.DataAndEvent, Type: realType},
			{Name: "y", Direction: composition.Input, Kind: composition.DataAndEvent, Type: realType},
		},
		OutputPortClasses: []*composition.PortClass{
			{Name: "point", Direction: composition.Output, Kind: composition.DataAndEvent, Type: point2DType},
		},
		Module: &composition.ModuleDescriptor{
			Key: "pw_point_make",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func(x, y float64, point *Point2D) {
						point.X = x
						point.Y = y
					},
					Params: []*composition.ParamDescriptor{
						{Name: "x", Annotations: []string{"vuoInputData", "vuoType:pw.real"}},
						{Name: "y", Annotations: []string{"vuoInputData", "vuoType:pw.real"}},
						{Name: "point", Annotations: []string{"vuoOutputData", "vuoType:pw.point2d"}},
					},
				},
			},
		},
	}
}

// ScalePointClass returns pw.point.scale. Its event function receives
// the point split into two successive scalar arguments, exercising the
// split-pair lowering.
func ScalePointClass() *composition.NodeClass {
	return &composition.NodeClass{
		Name:  "pw.point.scale",
		Title: "Scale Point",
		InputPortClasses: []*composition.PortClass{
			{Name: "point", Direction: composition.Input, Kind: composition.DataAndEvent, Type: point2DType},
			{Name: "factor", Direction: composition.Input, Kind: composition.DataAndEvent, Type: realType, InitialValue: "1"},
		},
		OutputPortClasses: []*composition.PortClass{
			{Name: "scaledPoint", Direction: composition.Output, Kind: composition.DataAndEvent, Type: point2DType},
		},
		Module: &composition.ModuleDescriptor{
			Key: "pw_point_scale",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func(pointX, pointY float64, factor float64, scaledPoint *Point2D) {
						scaledPoint.X = pointX * factor
						scaledPoint.Y = pointY * factor
					},
					Params: []*composition.ParamDescriptor{
						{Name: "point", Annotations: []string{"vuoInputData", "vuoType:pw.point2d"}},
						{Name: "factor", Annotations: []string{"vuoInputData", "vuoType:pw.real"}},
						{Name: "scaledPoint", Annotations: []string{"vuoOutputData", "vuoType:pw.point2d"}},
					},
				},
			},
		},
	}
}

// TranslatePointClass returns pw.point.translate. Its event function
// takes the point through a pointer, the unlowered-struct workaround
// observed after linking.
func TranslatePointClass() *composition.NodeClass {
	return &composition.NodeClass{
		Name:  "pw.point.translate",
		Title: "Translate Point",
		InputPortClasses: []*composition.PortClass{
			{Name: "point", Direction: composition.Input, Kind: composition.DataAndEvent, Type: point2DType},
			{Name: "dx", Direction: composition.Input, Kind: composition.DataAndEvent, Type: realType},
			{Name: "dy", Direction: composition.Input, Kind: composition.DataAndEvent, Type: realType},
		},
		OutputPortClasses: []*composition.PortClass{
			{Name: "translatedPoint", Direction: composition.Output, Kind: composition.DataAndEvent, Type: point2DType},
		},
		Module: &composition.ModuleDescriptor{
			Key: "pw_point_translate",
			Functions: map[string]*composition.FunctionDescriptor{
				composition.FuncNodeEvent: {
					Name: composition.FuncNodeEvent,
					Impl: func(point *Point2D, dx, dy float64, translatedPoint *Point2D) {
						translatedPoint.X = point.X + dx
						translatedPoint.Y = point.Y + dy
					},
					Params: []*composition.ParamDescriptor{
						{Name: "point", Annotations: []string{"vuoInputData", "vuoType:pw.point2d"}, UnloweredStructPointer: true},
						{Name: "dx", Annotations: []string{"vuoInputData", "vuoType:pw.real"}},
						{Name: "dy", Annotations: []string{"vuoInputData", "vuoType:pw.real"}},
						{Name: "translatedPoint", Annotations: []string{"vuoOutputData", "vuoType:pw.point2d"}},
					},
				},
			},
		},
	}
}

// Classes returns every built-in node class.
func Classes() []*composition.NodeClass {
	return []*composition.NodeClass{
		ShareIntegerClass(),
		AddIntegersClass(),
		CountClass(),
		FireOnStartClass(),
		FirePeriodicallyClass(),
		SpinOffEventClass(),
		HoldIntegerClass(),
		MakePointClass(),
		ScalePointClass(),
		TranslatePointClass(),
	}
}
