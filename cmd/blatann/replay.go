package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/cuemby/blatann/pkg/driver"
	"github.com/cuemby/blatann/pkg/events"
	"github.com/cuemby/blatann/pkg/journal"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay [port]",
	Short: "Replay journaled driver events",
	Long: `Feed the events journaled for a port back through an event router
and print them in the order they were recorded. Without a port, list the
ports that have a journal.

Examples:
  blatann replay --journal /var/lib/blatann/journal.db
  blatann replay --journal /var/lib/blatann/journal.db sim0`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.JournalPath == "" {
		return fmt.Errorf("no journal configured, use --journal")
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	if len(args) == 0 {
		ports, err := j.Ports()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No journaled ports")
			return nil
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	}

	port := args[0]
	router := driver.NewEvents("replay:" + port)
	defer router.Close()

	var current journal.Entry
	raw := events.NewFunc(func(_ *driver.Driver, ev driver.Event) events.Action {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			payload = []byte(fmt.Sprintf("%q", err.Error()))
		}
		fmt.Printf("%6d  %s  %-32s %s\n", current.Seq, current.Time.Format("15:04:05.000"), ev.Kind, payload)
		return events.ActionNone
	})
	events.Subscribe(router.Raw, raw)

	connections, disconnections := 0, 0
	onConnected := events.NewFunc(func(*driver.Driver, driver.GapConnected) events.Action {
		connections++
		return events.ActionNone
	})
	onDisconnected := events.NewFunc(func(*driver.Driver, driver.GapDisconnected) events.Action {
		disconnections++
		return events.ActionNone
	})
	events.Subscribe(router.Connected, onConnected)
	events.Subscribe(router.Disconnected, onDisconnected)

	err = j.Replay(port, func(e journal.Entry) error {
		current = e
		router.Dispatch(nil, e.Event)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n%d connections, %d disconnections\n", connections, disconnections)
	runtime.KeepAlive(raw)
	runtime.KeepAlive(onConnected)
	runtime.KeepAlive(onDisconnected)
	return nil
}
