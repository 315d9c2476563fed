package storage

import (
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"notes.pdf":           "notes.pdf",
		"../../etc/passwd":    "passwd",
		"week 1 (final).mp4":  "week_1__final_.mp4",
		"":                    "file",
		"dir/sub/Résumé.docx": "R__sum__.docx",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}

	long := strings.Repeat("a", 150) + ".pdf"
	got := SanitizeFilename(long)
	assert.Len(t, got, maxFilenameLength)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey(time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC), "Lesson 1.pdf")
	assert.Regexp(t, regexp.MustCompile(`^resources/2024/03/[0-9a-f-]{8}-Lesson_1\.pdf$`), key)
}

func TestLocalStorageRoundTrip(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	n, err := store.SaveStream("resources/2024/03/abc-notes.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.True(t, store.Exists("resources/2024/03/abc-notes.txt"))

	f, err := store.Open("resources/2024/03/abc-notes.txt")
	require.NoError(t, err)
	body, err := io.ReadAll(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	require.NoError(t, store.Delete("resources/2024/03/abc-notes.txt"))
	assert.False(t, store.Exists("resources/2024/03/abc-notes.txt"))
	require.NoError(t, store.Delete("resources/2024/03/abc-notes.txt"))
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveStream("../outside.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = store.Open("/etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidPath)
}
