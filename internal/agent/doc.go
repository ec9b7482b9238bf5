// Package agent contains the orchestrator that owns a conversation transcript,
// drives the request, tool-dispatch and follow-up cycle against a Transport,
// and exposes the callable surface used by workflows.
package agent
