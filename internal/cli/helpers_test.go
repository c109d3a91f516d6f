package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// bankDefs runs one withdraw flow against one account: two withdrawals of
// 100, then the one-minute horizon ends the flow.
const bankDefs = `
package bank

simulation: {
	start:       "2024-01-01T00:00:00Z"
	duration:    "1m"
	tick:        "1m"
	concurrency: 1
	seed:        7
}

event: AccountOpened: fields: {
	account_id: {generator: "uuid4", primary_key: true}
	owner:      "name"
}

event: Withdrawal: fields: {
	account_id: {}
	amount:     {generator: "random_int", params: {min: 1, max: 500}}
}

entity: Account: {
	primary_key:  "account_id"
	source_event: "AccountOpened"
	initial:      1
	state: {
		owner:   {from: "owner"}
		balance: 1000
	}
}

flow: withdraw: {
	filter: {entity: "Account", where: [{field: "balance", op: ">", value: 100}]}
	steps: [
		{emit: "Withdrawal", set: {amount: 100}, mutate: {
			entity: "Account"
			updates: [{field: "balance", op: "subtract", value: "${event.amount}"}]
		}},
		{emit: "Withdrawal", set: {amount: 100}, mutate: {
			entity: "Account"
			updates: [{field: "balance", op: "subtract", value: "${event.amount}"}]
		}},
		{decay: {rate: 0, duration: "2m"}},
	]
}
`

const withdrawScenario = `
name: withdraw
description: two withdrawals then the boundary
definitions: ../defs
assertions:
  - type: event_count
    event: Withdrawal
    count: 2
  - type: entity_state
    entity: Account
    where: { balance: 800 }
    expect: { balance: 800 }
  - type: termination_count
    status: boundary_exceeded
    count: 1
`

// writeFile writes content to dir/name, creating dir.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeBank lays out root/defs/bank.cue and returns the defs directory.
func writeBank(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "defs")
	writeFile(t, dir, "bank.cue", bankDefs)
	return dir
}

// execute runs cmd with args and returns stdout and stderr.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
