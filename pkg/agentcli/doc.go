// Package agentcli runs conversation turns against an external command-line
// agent, one process per turn, resuming the agent's own session for every
// turn after the first.
//
// Invariants:
// - A session key is created in the agent at most once per Registry; every later turn resumes it.
// - Primary and diagnostic output are drained concurrently; a turn ends only after both streams close.
// - Each output line reaches the sink exactly once, in its stream's order.
// - Process handles and output buffers never outlive the turn that created them.
//
// Usage:
//
//	launcher, _ := agentcli.NewLauncher(agentcli.LauncherConfig{Binary: "claude", WorkDir: dir})
//	orch := agentcli.NewOrchestrator(agentcli.NewRegistry(), launcher, agentcli.OrchestratorConfig{})
//	result, err := orch.RunTurn(ctx, agentcli.TurnRequest{
//		SessionKey: "abc",
//		Input:      "What is APOE4?",
//		Sink:       func(l agentcli.Line) { fmt.Println(l.Text) },
//	})
package agentcli
