package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/richinsley/sqnodes/graphapi"
)

var (
	ErrInterrupted    = errors.New("execution interrupted")
	ErrConnectionLost = errors.New("websocket connection lost")
)

// MessageHandlers defines optional callback functions for handling different message types
// from a QueueItem. All handlers are optional - only provide handlers for the messages you care about.
type MessageHandlers struct {
	OnStarted   func(*PromptMessageStarted)
	OnExecuting func(*PromptMessageExecuting)
	OnProgress  func(*PromptMessageProgress)
	OnData      func(*PromptMessageData)
	// OnStopped is called when execution stops (success, error, or interruption)
	OnStopped func(*PromptMessageStopped)
}

// DefaultMessageHandlers logs started, executing and stopped messages.
func DefaultMessageHandlers() *MessageHandlers {
	return &MessageHandlers{
		OnStarted: func(msg *PromptMessageStarted) {
			slog.Info("Execution started", "prompt_id", msg.PromptID)
		},
		OnExecuting: func(msg *PromptMessageExecuting) {
			slog.Debug("Executing node", "node_id", msg.NodeID, "title", msg.Title)
		},
		OnStopped: func(msg *PromptMessageStopped) {
			switch {
			case msg.Exception != nil:
				slog.Error("Execution error",
					"node_id", msg.Exception.NodeID,
					"node_type", msg.Exception.NodeType,
					"error", msg.Exception.ExceptionMessage,
				)
			case msg.Interrupted:
				slog.Warn("Execution interrupted")
			default:
				slog.Info("Execution completed successfully")
			}
		},
	}
}

// ProcessMessages dispatches the item's messages to handlers until execution
// stops, ctx is done or the websocket closes. It returns an error when
// execution failed, was interrupted or can no longer be followed.
func (qi *QueueItem) ProcessMessages(ctx context.Context, handlers *MessageHandlers) error {
	if handlers == nil {
		handlers = &MessageHandlers{}
	}
	for {
		var msg PromptMessage
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg = <-qi.Messages:
		case <-qi.connDone:
			// messages read before the connection dropped are still queued
			select {
			case msg = <-qi.Messages:
			default:
				return ErrConnectionLost
			}
		}

		switch msg.Type {
		case "started":
			if handlers.OnStarted != nil {
				handlers.OnStarted(msg.ToPromptMessageStarted())
			}
		case "executing":
			if handlers.OnExecuting != nil {
				handlers.OnExecuting(msg.ToPromptMessageExecuting())
			}
		case "progress":
			if handlers.OnProgress != nil {
				handlers.OnProgress(msg.ToPromptMessageProgress())
			}
		case "data":
			if handlers.OnData != nil {
				handlers.OnData(msg.ToPromptMessageData())
			}
		case "stopped":
			stopped := msg.ToPromptMessageStopped()
			if handlers.OnStopped != nil {
				handlers.OnStopped(stopped)
			}
			switch {
			case stopped.Exception != nil:
				return fmt.Errorf("execution failed: %s - %s",
					stopped.Exception.ExceptionType,
					stopped.Exception.ExceptionMessage)
			case stopped.Interrupted:
				return ErrInterrupted
			}
			return nil
		default:
			slog.Warn("Unknown message type received", "type", msg.Type)
		}
	}
}

// QueuePromptAndProcess queues prompt and blocks until it has run.
func (c *ComfyClient) QueuePromptAndProcess(ctx context.Context, prompt *graphapi.Prompt, handlers *MessageHandlers) error {
	item, err := c.QueuePrompt(prompt)
	if err != nil {
		return fmt.Errorf("failed to queue prompt: %w", err)
	}
	return item.ProcessMessages(ctx, handlers)
}
