package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transactionsDataset() Dataset {
	return Dataset{
		Title:   "Transactions",
		Headers: []string{"ref", "user_id", "course_id", "amount", "currency", "status", "created_at"},
		Rows: []map[string]string{
			{"ref": "cm_1", "user_id": "u-1", "course_id": "c-1", "amount": "49.99", "currency": "USD", "status": "successful", "created_at": "2024-05-01T10:00:00Z"},
			{"ref": "cm_2", "user_id": "u-2", "course_id": "c-1", "amount": "-5.00", "currency": "USD", "status": "failed", "created_at": "2024-05-02T11:30:00Z"},
			{"ref": "manual_3", "user_id": "u-3", "course_id": "=HYPERLINK(\"x\")", "amount": "0.00", "currency": "USD", "status": "manual", "created_at": "2024-05-03T09:15:00Z"},
		},
	}
}

func TestCSVExporterRenderGolden(t *testing.T) {
	out, err := NewCSVExporter().Render(transactionsDataset())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "transactions_csv", out)
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	exporter := NewPDFExporter()
	exporter.now = func() time.Time { return time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC) }

	out, err := exporter.Render(transactionsDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = exporter.Render(Dataset{})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 40))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnopqrstuvwxyz", 16))
}
