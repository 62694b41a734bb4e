package domain

import "time"

// EngineStatusKind is the closed set of EngineStatus variants (spec §3).
type EngineStatusKind int

const (
	StatusInstalledOnly EngineStatusKind = iota
	StatusRunningHealthy
	StatusRunningDegraded
	StatusErrorNetwork
	StatusErrorAPI
)

// EngineStatus is a sum type over the engine's observed runtime state.
// Only the fields relevant to Kind are meaningful.
type EngineStatus struct {
	Kind                EngineStatusKind
	LatencyMS           int64
	Reason              string
	ConsecutiveFailures int
}

func InstalledOnly() EngineStatus { return EngineStatus{Kind: StatusInstalledOnly} }

func RunningHealthy(latencyMS int64) EngineStatus {
	return EngineStatus{Kind: StatusRunningHealthy, LatencyMS: latencyMS}
}

func RunningDegraded(latencyMS int64, reason string) EngineStatus {
	return EngineStatus{Kind: StatusRunningDegraded, LatencyMS: latencyMS, Reason: reason}
}

func ErrorNetwork(reason string, consecutiveFailures int) EngineStatus {
	return EngineStatus{Kind: StatusErrorNetwork, Reason: reason, ConsecutiveFailures: consecutiveFailures}
}

func ErrorAPI(reason string) EngineStatus {
	return EngineStatus{Kind: StatusErrorAPI, Reason: reason}
}

// EngineCapabilities describes what an engine adapter claims to support.
// Capability discovery itself is out of scope (spec §9); all four engines
// share DefaultCapabilities, which reports chat, streaming and embeddings.
type EngineCapabilities struct {
	Chat       bool
	Streaming  bool
	Embeddings bool
}

func DefaultCapabilities() EngineCapabilities {
	return EngineCapabilities{Chat: true, Streaming: true, Embeddings: true}
}

// EngineState is the ephemeral, in-memory snapshot of one engine (spec §3).
type EngineState struct {
	ID           string
	Kind         EngineKind
	Name         string
	Version      string // empty if unknown
	Status       EngineStatus
	Capabilities EngineCapabilities
	CachedAt     time.Time
}

// EngineHealthSample is one point in an engine's rolling health window.
type EngineHealthSample struct {
	LatencyMS int64
	Failed    bool
	At        time.Time
}
