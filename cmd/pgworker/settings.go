package main

import (
	"fmt"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type SettingsCommands struct {
	GetSettings GetSettingsCommand `cmd:"" name:"settings" help:"Show the live settings for a queue or job." group:"SETTINGS"`
	SetSettings SetSettingsCommand `cmd:"" name:"set-settings" help:"Update the live settings for a queue or job." group:"SETTINGS"`
}

type GetSettingsCommand struct {
	Queue string `arg:"" name:"queue" help:"Queue or job name"`
}

type SetSettingsCommand struct {
	Queue                   string         `arg:"" name:"queue" help:"Queue or job name"`
	LeasePeriod             *time.Duration `name:"lease-period" help:"Message visibility timeout while processing"`
	EmptyQueuePollDelay     *time.Duration `name:"poll-delay" help:"Sleep when the queue is empty"`
	MaxDequeueCount         *uint64        `name:"max-dequeue-count" help:"Attempts before a message is poisoned"`
	MessageErrorSleepPeriod *time.Duration `name:"error-sleep" help:"Backoff unit and loop error sleep"`
	LoopPeriod              *time.Duration `name:"loop-period" help:"Period between lock attempts"`
	LockLeasePeriod         *time.Duration `name:"lock-lease-period" help:"Lock time-to-live while working"`
	CooldownPeriod          *time.Duration `name:"cooldown-period" help:"Lock time-to-live after success"`
	Enabled                 *bool          `name:"enabled" help:"Enable or disable processing"`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *GetSettingsCommand) Run(ctx *Globals) error {
	pool, client, err := ctx.Client()
	if err != nil {
		return err
	}
	defer pool.Close()

	settings, err := client.GetSettings(ctx.ctx, cmd.Queue, schema.DefaultSettings())
	if err != nil {
		return err
	}

	// Print
	fmt.Println(settings)
	return nil
}

func (cmd *SetSettingsCommand) Run(ctx *Globals) error {
	pool, client, err := ctx.Client()
	if err != nil {
		return err
	}
	defer pool.Close()

	// Check the result is valid before storing it
	meta := schema.SettingsMeta{
		LeasePeriod:             cmd.LeasePeriod,
		EmptyQueuePollDelay:     cmd.EmptyQueuePollDelay,
		MaxDequeueCount:         cmd.MaxDequeueCount,
		MessageErrorSleepPeriod: cmd.MessageErrorSleepPeriod,
		LoopPeriod:              cmd.LoopPeriod,
		LockLeasePeriod:         cmd.LockLeasePeriod,
		CooldownPeriod:          cmd.CooldownPeriod,
		Enabled:                 cmd.Enabled,
	}
	settings, err := client.GetSettings(ctx.ctx, cmd.Queue, schema.DefaultSettings())
	if err != nil {
		return err
	}
	if err := settings.Apply(meta).Validate(); err != nil {
		return err
	}

	// Update
	if err := client.SetSettings(ctx.ctx, cmd.Queue, meta); err != nil {
		return err
	}

	// Print
	fmt.Println(settings.Apply(meta))
	return nil
}
