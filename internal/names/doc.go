// Package names holds the pure string rules applied to every harvested item
// name: suffix sanitizing, artifact filtering, and the set type persisted by
// the state store.
package names
