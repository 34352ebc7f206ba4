package composition

import "testing"

func TestParseParamRoles(t *testing.T) {
	fn := &FunctionDescriptor{
		Name: "nodeEvent",
		Impl: func(value int64, valueEvent bool, result *int64, fired func()) {},
		Params: []*ParamDescriptor{
			{Name: "value", Annotations: []string{"vuoInputData", "vuoType:pw.integer"}},
			{Name: "valueEvent", Annotations: []string{"vuoInputEvent", `vuoDetails:{"data":"value"}`}},
			{Name: "result", Annotations: []string{"vuoOutputData", "vuoType:pw.integer"}},
			{Name: "fired", Annotations: []string{"vuoOutputTrigger:fired"}},
		},
	}

	roles, err := ParseParamRoles(fn)
	if err != nil {
		t.Fatalf("ParseParamRoles failed: %v", err)
	}
	if len(roles) != 4 {
		t.Fatalf("expected 4 roles, got %d", len(roles))
	}

	if roles[0].Role != RoleInputData || roles[0].PortName != "value" || roles[0].TypeName != "pw.integer" {
		t.Errorf("role 0 parsed wrong: %+v", roles[0])
	}
	if roles[1].Role != RoleInputEvent || roles[1].PortName != "value" {
		t.Errorf("event parameter should bind to its data port, got %q", roles[1].PortName)
	}
	if roles[2].Role != RoleOutputData {
		t.Errorf("role 2 should be output data")
	}
	if roles[3].Role != RoleOutputTrigger || roles[3].TriggerName != "fired" {
		t.Errorf("trigger role parsed wrong: %+v", roles[3])
	}
}

func TestParseParamRoles_EventNameConvention(t *testing.T) {
	fn := &FunctionDescriptor{
		Name: "nodeEvent",
		Impl: func(updateEvent bool) {},
		Params: []*ParamDescriptor{
			{Name: "updateEvent", Annotations: []string{"vuoInputEvent"}},
		},
	}
	roles, err := ParseParamRoles(fn)
	if err != nil {
		t.Fatalf("ParseParamRoles failed: %v", err)
	}
	if roles[0].PortName != "update" {
		t.Errorf("expected port name 'update' from the Event suffix convention, got %q", roles[0].PortName)
	}
}

func TestParseParamRoles_MissingRole(t *testing.T) {
	fn := &FunctionDescriptor{
		Name: "nodeEvent",
		Impl: func(value int64) {},
		Params: []*ParamDescriptor{
			{Name: "value", Annotations: []string{"vuoType:pw.integer"}},
		},
	}
	if _, err := ParseParamRoles(fn); err == nil {
		t.Errorf("expected error for parameter with no role annotation")
	}
}

func TestParseParamRoles_MalformedDetails(t *testing.T) {
	fn := &FunctionDescriptor{
		Name: "nodeEvent",
		Impl: func(value int64) {},
		Params: []*ParamDescriptor{
			{Name: "value", Annotations: []string{"vuoInputData", "vuoDetails:{not json"}},
		},
	}
	if _, err := ParseParamRoles(fn); err == nil {
		t.Errorf("expected error for malformed details annotation")
	}
}

func TestParseParamRoles_TooManyDescriptors(t *testing.T) {
	fn := &FunctionDescriptor{
		Name: "nodeEvent",
		Impl: func(value int64) {},
		Params: []*ParamDescriptor{
			{Name: "a", Annotations: []string{"vuoInputData"}},
			{Name: "b", Annotations: []string{"vuoInputData"}},
		},
	}
	if _, err := ParseParamRoles(fn); err == nil {
		t.Errorf("expected error when descriptors outnumber parameters")
	}
}
