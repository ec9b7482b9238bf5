// Command examples walks through the obru SDK against a running server:
//
//	OBRU_URL=http://localhost:8080 OBRU_API_KEY=... go run ./sdk/go/examples
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/danielhardy/obru-ai/sdk/go/obru"
)

func main() {
	baseURL := os.Getenv("OBRU_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client := obru.NewClient(baseURL, obru.WithAPIKey(os.Getenv("OBRU_API_KEY")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	reply, err := client.Chat(ctx, "", "What time is it?")
	if err != nil {
		log.Fatalf("chat: %v", err)
	}
	fmt.Printf("[%s] %s\n", reply.SessionID, reply.Reply)

	tools, err := client.ListTools(ctx)
	if err != nil {
		log.Fatalf("list tools: %v", err)
	}
	for _, t := range tools {
		fmt.Printf("tool %s: %s\n", t.Name, t.Description)
	}

	submitted, err := client.SubmitTask(ctx, obru.TaskRequest{
		Kind:      obru.KindChat,
		Input:     "Summarise our conversation so far.",
		SessionID: reply.SessionID,
	})
	if err != nil {
		log.Fatalf("submit task: %v", err)
	}
	task, err := client.WaitForTask(ctx, submitted.ID, time.Second)
	if err != nil {
		log.Fatalf("wait for task: %v", err)
	}
	if task.Status != obru.StatusSucceeded {
		log.Fatalf("task %s failed: %s", task.ID, task.LastError)
	}
	fmt.Println("task output:", task.Result.Output)
}
