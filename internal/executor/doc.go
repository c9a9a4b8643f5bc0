// Package executor dispatches a named executable invocation to the strategy
// that matches the executable's definition.
//
// # Overview
//
// Dispatch receives an invocation (name plus argument expressions), the
// executable's definition, the variable holding it and an execution Context.
// It evaluates the arguments against the caller's environment, binds them to
// the definition's parameters in a child environment, then routes:
//
//   - Builtin transformer variables run their Go implementation with the
//     evaluated positional arguments. Keychain transformers validate their
//     service/account argument first.
//   - Template definitions interpolate their nodes.
//   - Command definitions interpolate a command line, pass it through the
//     security gate and spawn it through Runtime.ExecuteCommand.
//   - Code definitions interpolate their source and hand it to
//     Runtime.RunCode. The "when" pseudo-language must carry a WhenExpr node.
//   - Command reference definitions either delegate an embedded invocation to
//     the InvocationEvaluator or dispatch the named target again, guarded by
//     the CallStack against cycles.
//   - Prose definitions resolve their config reference and call
//     Runtime.RunPrompt.
//   - Anything else fails with an unsupported-kind error before any side effect.
//
// # Arguments
//
// Arguments bind by position. A parameter with no argument binds to nil and
// does not see a caller variable of the same name. Extra arguments are kept
// only in Bundle.Positional. A literal null binds as
// nil at runtime and renders as the empty string. The literal string "null"
// stays a string.
//
// # Effects
//
// Effects are delivered synchronously to Context.Effects as they are
// produced, so a sink observes them in emission order.
//
// # Events
//
// Every dispatch publishes events.DispatchStart and events.DispatchFinish on
// the process-wide event bus. The security gate publishes
// events.SecurityReview whenever an assessment flags a command line.
package executor
