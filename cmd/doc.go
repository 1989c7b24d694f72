// Package cmd implements the dulayni command-line interface.
//
// # Architecture
//
// ## Core CLI
//
//   - root.go: App struct, cobra root command, persistent flags, logging
//     setup and the shared config/client/auth wiring
//   - run.go: the run command (batch queries and the interactive session)
//   - account.go: logout, status and balance
//   - init.go: project initialisation wizard
//   - prompts.go: huh forms with a plain line fallback when stdin is not a
//     terminal
//
// ## Interactive Mode
//
//   - interactive.go: go-prompt adapter around query.Loop
//   - slash_commands.go: completer suggestions for slash commands
//
// ## Companions
//
//   - companions.go: starts the filesystem helper and the tunnel sidecar and
//     guarantees their cleanup
//   - fs_server.go: the hidden fs-server command the supervisor spawns
//
// # Usage
//
//	func main() {
//	    cmd.Execute()
//	}
package cmd
