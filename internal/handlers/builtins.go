package handlers

// RegisterBuiltins registers every command this core ships out of the box:
// help, status/ping, the admin panel and admin-system family, diagnostics,
// user management, and the bridge-facing commands (qr, bridge, chats,
// history, bridge-health). cmdPrefix is called on every match attempt so a
// hot-reloaded command prefix takes effect immediately.
func RegisterBuiltins(r *Registry, cmdPrefix func() string) error {
	builtins := []HandlerDescriptor{
		newHelpHandler(cmdPrefix),
		newStatusHandler(cmdPrefix),
		newAdminHandler(cmdPrefix),
		newAdminSystemHandler(cmdPrefix),
		newDiagnosticHandler(cmdPrefix),
		newUsersHandler(cmdPrefix),
		newQRHandler(cmdPrefix),
		newBridgeHandler(cmdPrefix),
		newBridgeHealthHandler(cmdPrefix),
		newChatsHandler(cmdPrefix),
		newHistoryHandler(cmdPrefix),
	}
	for _, d := range builtins {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
