package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tay1862/kinsaep-pos-sub005/internal/order"
	"github.com/tay1862/kinsaep-pos-sub005/internal/store"
)

// writeTerminalConfig writes a minimal standalone config and returns
// its path together with the local store path it points at.
func writeTerminalConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "orders.db")
	configPath = filepath.Join(dir, "pos.yaml")
	content := fmt.Sprintf(`
terminal:
  id: term-test
currency:
  code: THB
store:
  localPath: %s
`, dbPath)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, dbPath
}

func seedOrder(t *testing.T, dbPath, id string, number int64, status order.Status) {
	t.Helper()
	st, err := store.OpenSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close()

	created := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	_, err = st.Put(context.Background(), &order.Order{
		ID:        id,
		Code:      fmt.Sprintf("POS-20260314-%04d", number),
		Number:    number,
		Status:    status,
		Type:      order.TypeDineIn,
		TableID:   "t1",
		Totals:    order.Totals{Subtotal: 25000, Total: 27500},
		Revision:  1,
		CreatedAt: created,
		UpdatedAt: created.Add(time.Duration(number) * time.Minute),
	})
	require.NoError(t, err)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestOrdersCommand(t *testing.T) {
	configPath, dbPath := writeTerminalConfig(t)
	seedOrder(t, dbPath, "ord-1", 1, order.StatusCompleted)
	seedOrder(t, dbPath, "ord-2", 2, order.StatusPending)

	out, err := execute(t, "orders", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "POS-20260314-0001")
	assert.Contains(t, out, "POS-20260314-0002")
	assert.Contains(t, out, "completed")
}

func TestOrdersCommand_StatusFilter(t *testing.T) {
	configPath, dbPath := writeTerminalConfig(t)
	seedOrder(t, dbPath, "ord-1", 1, order.StatusCompleted)
	seedOrder(t, dbPath, "ord-2", 2, order.StatusPending)

	out, err := execute(t, "orders", "--config", configPath, "--status", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "POS-20260314-0002")
	assert.NotContains(t, out, "POS-20260314-0001")
}

func TestOrdersCommand_JSON(t *testing.T) {
	configPath, dbPath := writeTerminalConfig(t)
	seedOrder(t, dbPath, "ord-1", 1, order.StatusCompleted)

	out, err := execute(t, "orders", "--config", configPath, "--format", "json")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	rows, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, "POS-20260314-0001", row["code"])
	assert.Equal(t, "t1", row["table"])
}

func TestOrdersCommand_Empty(t *testing.T) {
	configPath, _ := writeTerminalConfig(t)

	out, err := execute(t, "orders", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "no orders")
}

func TestOrdersCommand_MissingConfig(t *testing.T) {
	_, err := execute(t, "orders", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayCommand_NoRemoteConfigured(t *testing.T) {
	configPath, _ := writeTerminalConfig(t)

	out, err := execute(t, "replay", "--config", configPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no remote store")
	assert.Contains(t, out, "Error [CONFIG]", "failure reported through the output envelope")
}

func TestReplayCommand_ConfigErrorAsJSON(t *testing.T) {
	configPath, _ := writeTerminalConfig(t)

	out, err := execute(t, "replay", "--config", configPath, "--format", "json")
	require.Error(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeConfig, resp.Error.Code)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "posd")

	out, err = execute(t, "version", "--format", "json")
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}
