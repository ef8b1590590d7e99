package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// tests run against sqlite; queries use ? placeholders rebound per driver
func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := sqlx.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "orders.db")+"?mode=rwc")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(`CREATE TABLE app_order (
		id TEXT PRIMARY KEY,
		created_at DATETIME,
		price REAL,
		state TEXT,
		user_id TEXT,
		pay_way TEXT,
		description TEXT
	)`)
	require.NoError(t, err)
	return conn
}

func insertOrder(t *testing.T, conn *sqlx.DB, id string, createdAt time.Time, price float64, state, userID, payWay, description string) {
	t.Helper()
	_, err := conn.Exec("INSERT INTO app_order (id, created_at, price, state, user_id, pay_way, description) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, createdAt, price, state, userID, payWay, description)
	require.NoError(t, err)
}

func TestGenerator_Revenue(t *testing.T) {
	conn := testDB(t)
	now := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

	insertOrder(t, conn, "o1", now.Add(-2*time.Hour), 10, "Finished", "u1", "Stripe", "today order")
	insertOrder(t, conn, "o2", now.AddDate(0, 0, -3), 20, "Finished", "u1", "Stripe", "this week")
	insertOrder(t, conn, "o3", now.AddDate(0, 0, -20), 40, "Finished", "u2", "PayPal", "this month")
	insertOrder(t, conn, "o4", now.AddDate(0, 0, -60), 80, "Finished", "u1", "Stripe", "this quarter")
	insertOrder(t, conn, "o5", now.AddDate(0, 0, -200), 160, "Finished", "u1", "Stripe", "too old")
	insertOrder(t, conn, "o6", now.Add(-time.Hour), 999, "Pending", "u1", "Stripe", "not finished")

	g := New(conn, Config{})
	g.now = func() time.Time { return now }

	snap, err := g.Revenue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, now.Format(time.RFC3339), snap.AsOf)
	assert.Equal(t, "USD", snap.Currency)
	assert.InDelta(t, 10, snap.Today, 0.001)
	assert.InDelta(t, 30, snap.Last7d, 0.001)
	assert.InDelta(t, 70, snap.Last30d, 0.001)
	assert.InDelta(t, 150, snap.Last90d, 0.001)
}

func TestGenerator_Revenue_filters(t *testing.T) {
	conn := testDB(t)
	now := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

	insertOrder(t, conn, "o1", now.AddDate(0, 0, -3), 10, "Finished", "u1", "Stripe", "")
	insertOrder(t, conn, "o2", now.AddDate(0, 0, -3), 20, "Finished", "u2", "Stripe", "")
	insertOrder(t, conn, "o3", now.AddDate(0, 0, -3), 40, "Finished", "u1", "PayPal", "")

	t.Run("user filter", func(t *testing.T) {
		g := New(conn, Config{UserID: "u1"})
		g.now = func() time.Time { return now }
		snap, err := g.Revenue(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 50, snap.Last7d, 0.001)
	})

	t.Run("pay way filter", func(t *testing.T) {
		g := New(conn, Config{PayWays: []string{"Stripe"}})
		g.now = func() time.Time { return now }
		snap, err := g.Revenue(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 30, snap.Last7d, 0.001)
	})

	t.Run("combined", func(t *testing.T) {
		g := New(conn, Config{UserID: "u1", PayWays: []string{"Stripe", "PayPal"}})
		g.now = func() time.Time { return now }
		snap, err := g.Revenue(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 50, snap.Last7d, 0.001)
	})
}

func TestGenerator_Revenue_badTable(t *testing.T) {
	g := New(testDB(t), Config{OrdersTable: "app_order; DROP TABLE x"})
	_, err := g.Revenue(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid orders table")
}

func TestGenerator_RecentOrders(t *testing.T) {
	conn := testDB(t)
	now := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	longID := "0123456789abcdefghijklmnopqrstuv"

	insertOrder(t, conn, longID, now.Add(-time.Hour), 19.999, "Finished", "u1", "Stripe", "GPT credits")
	insertOrder(t, conn, "short-id", now.Add(-2*time.Hour), 5, "Finished", "u2", "", "")
	insertOrder(t, conn, "free", now.Add(-30*time.Minute), 0, "Finished", "u1", "Stripe", "zero priced")
	insertOrder(t, conn, "pending", now.Add(-10*time.Minute), 50, "Pending", "u1", "Stripe", "not finished")

	g := New(conn, Config{Limit: 10})
	g.now = func() time.Time { return now }

	result, err := g.RecentOrders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	require.Len(t, result.Orders, 2)

	first := result.Orders[0]
	assert.Equal(t, "0123456789****mnopqrstuv", first.ID, "long id masked")
	assert.Equal(t, "Stripe", first.PayWay)
	assert.InDelta(t, 20.0, first.Price, 0.001, "price rounded to cents")
	assert.Equal(t, "GPT credits", first.Description)
	assert.Equal(t, now.Add(-time.Hour).Format(time.RFC3339), first.CreatedAt)

	second := result.Orders[1]
	assert.Equal(t, "short-id", second.ID, "short id untouched")
	assert.Equal(t, "Unknown", second.PayWay, "empty pay way defaults")
}

func TestGenerator_RecentOrders_limit(t *testing.T) {
	conn := testDB(t)
	now := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		insertOrder(t, conn, string(rune('a'+i)), now.Add(-time.Duration(i)*time.Hour), 10, "Finished", "u", "Stripe", "")
	}

	g := New(conn, Config{Limit: 3})
	g.now = func() time.Time { return now }

	result, err := g.RecentOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, "a", result.Orders[0].ID, "newest first")
}

func TestMaskOrderID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short", "abc", "abc"},
		{"exactly 20", "01234567890123456789", "01234567890123456789"},
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", "550e8400-e****6655440000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskOrderID(tt.in))
		})
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "revenue.json")
	payload := map[string]any{"currency": "USD", "today": 10.5}

	require.NoError(t, WriteJSON(path, payload))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1], "trailing newline")

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "USD", got["currency"])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file renamed away")

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, WriteJSON(path, map[string]any{"currency": "EUR"}))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "EUR")
	})
}
