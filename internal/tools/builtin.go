package tools

// RegisterBuiltins registers every built-in tool except workflow.fanout,
// which needs the engine and is registered through RegisterFanout.
func RegisterBuiltins(reg *Registry, validator SchemaValidator) error {
	all := make([]Tool, 0, 16)
	all = append(all, ValueTools(validator)...)
	all = append(all, EffectTools(validator)...)
	all = append(all, NewHTTPTool(HTTPConfig{}, validator))

	query, err := QueryTools(validator)
	if err != nil {
		return err
	}
	all = append(all, query...)

	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
