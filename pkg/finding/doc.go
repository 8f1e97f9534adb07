// Package finding provides the alert and severity types shared by the
// engine client, the verdict evaluator and the report writers.
//
// Severity is a closed, ordered set. Values reported by the engine that do
// not map onto it become Unknown and are counted as such; they are never
// folded into a neighbouring level or dropped.
package finding
