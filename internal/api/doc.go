// Package api exposes the REST interface for chatting with sessions, running
// workflows and inspecting asynchronous tasks.
package api
