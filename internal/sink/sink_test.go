package sink

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-harvester/internal/database"
	"github.com/JakeFAU/bulk-harvester/internal/engine"
	"github.com/JakeFAU/bulk-harvester/internal/hash/sha256"
	"github.com/JakeFAU/bulk-harvester/internal/storage"
)

func samplePage() *engine.PageResult {
	return &engine.PageResult{
		URL:        "https://example.com/widgets",
		Title:      "Widgets",
		HTML:       "<html><body>widgets</body></html>",
		Links:      []string{"https://example.com/a", "https://example.com/b"},
		StatusCode: 200,
		FetchedAt:  time.Unix(1700000000, 0).UTC(),
	}
}

func TestStorePageWritesBlobAndRow(t *testing.T) {
	mem := storage.NewMemory()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	pages, err := database.NewPageStoreWithPool(mock, "pages")
	require.NoError(t, err)

	page := samplePage()
	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			pgxmock.AnyArg(),
			"job-1",
			page.URL,
			page.Title,
			pgxmock.AnyArg(), // blob URI carries the content digest
			page.StatusCode,
			2,
			page.FetchedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := New(mem, pages, zap.NewNop())
	require.NoError(t, s.StorePage(context.Background(), "job-1", page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePageBlobOnly(t *testing.T) {
	mem := storage.NewMemory()
	s := New(mem, nil, zap.NewNop())

	page := samplePage()
	require.NoError(t, s.StorePage(context.Background(), "job-1", page))

	digest, err := sha256.New().Hash([]byte(page.HTML))
	require.NoError(t, err)
	data, ok := mem.Object("pages/job-1/" + digest + ".html")
	require.True(t, ok)
	assert.Equal(t, []byte(page.HTML), data)
}

func TestStorePageDisabledIsNoop(t *testing.T) {
	s := New(nil, nil, zap.NewNop())
	require.NoError(t, s.StorePage(context.Background(), "job-1", samplePage()))
}
