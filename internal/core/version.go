package core

// Version is the orchestrator release version, reported in metrics and
// the health endpoint.
const Version = "1.0.0"
