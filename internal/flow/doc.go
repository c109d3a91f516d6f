// Package flow defines flow templates and the behaviors they run.
//
// A behavior is a resumable task. The scheduler pulls one Intent at a time
// from it and interprets the intent; the behavior never touches the entity
// store or the output sinks directly. Two intents exist:
//
//   - Emit materializes an event, optionally mutating a claimed entity or
//     registering a new one from the event data.
//   - Decay advances the instance's local clock and may end the flow.
//
// Steps is a compiled list of intents built with NewSteps. Script adapts an
// iterator function for behaviors that need control flow.
package flow
