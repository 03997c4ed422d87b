// Package agent runs a language model through a multi-turn, tool-augmented
// conversation against tool providers.
//
// A run is a state machine:
//
//	AwaitingTurn -> Generating -> (ToolsRequested -> ExecutingTools -> AwaitingTurn)* -> Completed | Failed
//
// Tool failures and unknown tool names are fed back to the model as failure
// results. Provider, protocol and transport failures end the run in the Failed
// state. The number of Generating steps is bounded by Config.MaxIterations.
package agent
