package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/relieftools/fieldsync/internal/queue"
)

var (
	flagEnqueueData     string
	flagEnqueueDataFile string
	flagEnqueuePriority int
)

func newEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <type> <action> <entity-uuid>",
		Short: "Queue a field operation for delivery",
		Long: `Add one operation to the durable sync queue. The operation is persisted
immediately and delivered by the next sync cycle; no network is required.

type is one of: assessment, response, commitment, entity.
action is one of: create, update, delete.

The entity payload is read from --data, --data-file, or stdin ('-').`,
		Args: cobra.ExactArgs(3),
		RunE: runEnqueue,
	}

	cmd.Flags().StringVar(&flagEnqueueData, "data", "", "entity payload as inline JSON")
	cmd.Flags().StringVar(&flagEnqueueDataFile, "data-file", "", "read entity payload from file ('-' for stdin)")
	cmd.Flags().IntVar(&flagEnqueuePriority, "priority", 0, "delivery priority (higher first, default 5)")

	cmd.MarkFlagsMutuallyExclusive("data", "data-file")

	return cmd
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	payload, err := readPayload()
	if err != nil {
		return err
	}

	typ, err := queue.ParseEntityType(args[0])
	if err != nil {
		return err
	}

	action, err := queue.ParseAction(args[1])
	if err != nil {
		return err
	}

	mgr, err := openQueue(logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := cmd.Context()

	id, err := mgr.Add(ctx, typ, action, args[2], payload, flagEnqueuePriority)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(map[string]string{"uuid": id})
	}

	fmt.Println(id)
	statusf("Queued. Run 'fieldsync sync' to deliver, or let the watch daemon pick it up.\n")

	return nil
}

// readPayload resolves the entity payload from --data, --data-file, or
// nothing. A present payload must be valid JSON.
func readPayload() (json.RawMessage, error) {
	var data []byte

	switch {
	case flagEnqueueData != "":
		data = []byte(flagEnqueueData)

	case flagEnqueueDataFile == "-":
		stdin, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading payload from stdin: %w", err)
		}

		data = stdin

	case flagEnqueueDataFile != "":
		fileData, err := os.ReadFile(flagEnqueueDataFile)
		if err != nil {
			return nil, fmt.Errorf("reading payload file: %w", err)
		}

		data = fileData

	default:
		// Deletes carry no payload.
		return nil, nil
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}

	return data, nil
}
