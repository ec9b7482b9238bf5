// Command obru runs the orchestration server and offers a terminal client for
// chatting with sessions, running workflows and listing tools.
package main

func main() {
	Execute()
}
