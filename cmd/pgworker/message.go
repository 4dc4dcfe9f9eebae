package main

import (
	"fmt"
	"io"
	"os"
	"time"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type MessageCommands struct {
	Send   SendCommand   `cmd:"" name:"send" help:"Send a message." group:"QUEUE"`
	Status StatusCommand `cmd:"" name:"status" help:"Show the number of messages in each queue." group:"QUEUE"`
	Purge  PurgeCommand  `cmd:"" name:"purge" help:"Delete old messages from a queue." group:"QUEUE"`
}

type SendCommand struct {
	Queue string        `arg:"" name:"queue" help:"Queue name"`
	Body  string        `arg:"" name:"body" help:"Message body, or read from stdin when omitted" optional:""`
	Delay time.Duration `name:"delay" help:"Delay before the message becomes visible"`
}

type StatusCommand struct{}

type PurgeCommand struct {
	Queue     string        `arg:"" name:"queue" help:"Queue name"`
	OlderThan time.Duration `name:"older-than" help:"Only delete messages enqueued before this age" default:"0s"`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *SendCommand) Run(ctx *Globals) error {
	pool, client, err := ctx.Client()
	if err != nil {
		return err
	}
	defer pool.Close()

	// Read the body
	var body []byte
	if cmd.Body != "" {
		body = []byte(cmd.Body)
	} else if body, err = io.ReadAll(os.Stdin); err != nil {
		return err
	}

	// Send the message
	message, err := client.Queue(cmd.Queue).Send(ctx.ctx, body, cmd.Delay)
	if err != nil {
		return err
	}

	// Print
	fmt.Println(message)
	return nil
}

func (cmd *StatusCommand) Run(ctx *Globals) error {
	pool, client, err := ctx.Client()
	if err != nil {
		return err
	}
	defer pool.Close()

	status, err := client.Status(ctx.ctx)
	if err != nil {
		return err
	}

	// Print
	for _, row := range status {
		fmt.Println(row)
	}
	return nil
}

func (cmd *PurgeCommand) Run(ctx *Globals) error {
	pool, client, err := ctx.Client()
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := client.Purge(ctx.ctx, cmd.Queue, cmd.OlderThan)
	if err != nil {
		return err
	}

	// Print
	fmt.Println("purged", n, "messages from", cmd.Queue)
	return nil
}
