package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// InspectCmd prints the latest persisted checkpoint for a run id, without
// executing anything: useful for diagnosing a stuck or failed run before
// deciding whether to resume it.
type InspectCmd struct {
	RunID string `required:"" name:"run-id" help:"Run id to inspect."`
}

func (c *InspectCmd) Run(cli *CLI) error {
	runStore, err := openRunStore(cli)
	if err != nil {
		return err
	}
	rec, step, err := runStore.LoadLatest(context.Background(), c.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", c.RunID, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	fmt.Printf("run %s, step %d:\n", c.RunID, step)
	return enc.Encode(rec)
}
