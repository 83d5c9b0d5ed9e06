package actions

// Builtins returns one executor per built-in action kind.
func Builtins(deps *Deps) []Action {
	return []Action{
		NewNotifyUserAction(deps),
		NewSendEmailAction(deps),
		NewSendSMSAction(deps),
		NewSendChatMessageAction(deps),
		NewCreateTaskAction(deps),
		NewUpdateStatusAction(deps),
		NewAssignToUserAction(deps),
	}
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, deps *Deps) error {
	for _, a := range Builtins(deps) {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
